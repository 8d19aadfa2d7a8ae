//go:build !linux

package main

import (
	"context"
	"fmt"
	"runtime"

	"cruise-ctrl-core/utils"
)

func dialCAN(_ context.Context, iface string) (utils.CANReader, utils.CANWriter, error) {
	return nil, nil, fmt.Errorf("socketcan %s: not supported on %s", iface, runtime.GOOS)
}
