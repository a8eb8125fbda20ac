// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe_test

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bassosimone/rtframe"
	"github.com/bassosimone/runtimex"
)

// This example receives frames from a stream producer and consumes the
// latest one at 30 Hz, the way a render loop would.
func Example_session() {
	// A producer sending a field-of-view preamble and three frames.
	listener := runtimex.PanicOnError1(net.Listen("tcp", "127.0.0.1:0"))
	defer listener.Close()
	go func() {
		conn := runtimex.PanicOnError1(listener.Accept())
		defer conn.Close()
		sw := rtframe.NewStreamWriter(conn)
		for _, frame := range []string{"110,70", "frame-1", "frame-2", "frame-3"} {
			if err := sw.WriteFrame([]byte(frame)); err != nil {
				panic(err)
			}
		}
		time.Sleep(time.Second)
	}()

	cfg := rtframe.DefaultSessionConfig()
	cfg.Host = "127.0.0.1"
	cfg.FramePort = listener.Addr().(*net.TCPAddr).Port
	cfg.Preamble = true
	cfg.AutoReconnect = false

	// Pass a *slog.Logger instead of DefaultSLogger to see the events.
	session := rtframe.NewSession(rtframe.NewConfig(), rtframe.DefaultSLogger())
	fovch := make(chan rtframe.FieldOfView, 1)
	session.OnPreamble = func(fov rtframe.FieldOfView) { fovch <- fov }
	if err := session.Start(context.Background(), cfg); err != nil {
		panic(err)
	}
	defer session.Stop()

	fmt.Println("fov", <-fovch)

	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()
	for range ticker.C {
		frame, ok := session.TryGetLatestFrame()
		if ok && string(frame.Payload) == "frame-3" {
			fmt.Println("latest", string(frame.Payload))
			break
		}
	}

	// Output:
	// fov 110.00x70.00
	// latest frame-3
}

// This example reassembles a frame whose chunk datagrams arrive out of
// order, with a duplicate and a stray datagram.
func Example_reassembler() {
	datagrams := runtimex.PanicOnError1(rtframe.SplitFrame(42, []byte("hello, world"), 5))

	reasm := rtframe.NewReassembler()
	arrivals := [][]byte{datagrams[2], []byte("ping"), datagrams[0], datagrams[2], datagrams[1]}
	for _, datagram := range arrivals {
		frame, err := reasm.Add(datagram)
		switch {
		case err != nil:
			fmt.Println("discarded:", err)
		case frame != nil:
			fmt.Printf("frame %d: %s\n", frame.FrameID, frame.Payload)
		}
	}

	stats := reasm.Stats()
	fmt.Println("duplicates", stats.Duplicates, "malformed", stats.Malformed)

	// Output:
	// discarded: rtframe: malformed datagram: 4 bytes
	// frame 42: hello, world
	// duplicates 1 malformed 1
}
