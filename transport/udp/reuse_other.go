//go:build !unix && !windows

package udp

import (
	"fmt"

	"github.com/kabili207/ocbridge/core"
)

func setReuseAddr(uintptr) error {
	return fmt.Errorf("%w: SO_REUSEADDR", core.ErrUnsupportedPlatform)
}
