package store

import (
	"errors"
	"net"

	"github.com/example/medsupply-storefront/internal/domain/cart"
)

// unreachable maps network failures to cart.ErrStorageUnavailable and leaves
// every other error as it is.
func unreachable(err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return cart.Unavailable(err)
	}
	return err
}
