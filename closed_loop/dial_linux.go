//go:build linux

package main

import (
	"context"

	"cruise-ctrl-core/utils"
)

func dialCAN(ctx context.Context, iface string) (utils.CANReader, utils.CANWriter, error) {
	writer, err := utils.NewSocketCANWriter(ctx, iface)
	if err != nil {
		return nil, nil, err
	}

	// Separate socket for sensor feedback
	reader, err := utils.NewSocketCANReader(ctx, iface)
	if err != nil {
		_ = writer.Close()
		return nil, nil, err
	}
	return reader, writer, nil
}
