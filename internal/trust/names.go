package trust

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidStore is returned for a store name or location outside the
// known range.
var ErrInvalidStore = errors.New("invalid certificate store")

// StoreName identifies one of the eight certificate lists of the trust store.
type StoreName int

const (
	AddressBook StoreName = iota + 1
	AuthRoot
	CertificateAuthority
	Disallowed
	My
	Root
	TrustedPeople
	TrustedPublisher
)

var storeNames = [...]string{
	AddressBook:          "AddressBook",
	AuthRoot:             "AuthRoot",
	CertificateAuthority: "CertificateAuthority",
	Disallowed:           "Disallowed",
	My:                   "My",
	Root:                 "Root",
	TrustedPeople:        "TrustedPeople",
	TrustedPublisher:     "TrustedPublisher",
}

func (n StoreName) Valid() bool {
	return n >= AddressBook && n <= TrustedPublisher
}

func (n StoreName) String() string {
	if !n.Valid() {
		return fmt.Sprintf("StoreName(%d)", int(n))
	}
	return storeNames[n]
}

// ParseStoreName accepts either the store number (1-8) or its name,
// case-insensitively.
func ParseStoreName(s string) (StoreName, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if name := StoreName(n); name.Valid() {
			return name, nil
		}
		return 0, fmt.Errorf("%w: store %d is not in 1-8", ErrInvalidStore, n)
	}
	for i := AddressBook; i <= TrustedPublisher; i++ {
		if strings.EqualFold(storeNames[i], s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown store %q", ErrInvalidStore, s)
}

// StoreLocation selects whose trust store is addressed.
type StoreLocation int

const (
	CurrentUser StoreLocation = iota + 1
	LocalMachine
)

func (l StoreLocation) Valid() bool {
	return l == CurrentUser || l == LocalMachine
}

func (l StoreLocation) String() string {
	switch l {
	case CurrentUser:
		return "CurrentUser"
	case LocalMachine:
		return "LocalMachine"
	default:
		return fmt.Sprintf("StoreLocation(%d)", int(l))
	}
}

// ParseStoreLocation accepts "1", "2", "CurrentUser" or "LocalMachine".
func ParseStoreLocation(s string) (StoreLocation, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "1" || strings.EqualFold(s, "CurrentUser"):
		return CurrentUser, nil
	case s == "2" || strings.EqualFold(s, "LocalMachine"):
		return LocalMachine, nil
	}
	return 0, fmt.Errorf("%w: unknown location %q", ErrInvalidStore, s)
}
