package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEventPrefix names the socket.io events: "<prefix>:<kind>".
const DefaultEventPrefix = "burstrun"

// SocketIOConfig configures DialSocketIO.
type SocketIOConfig struct {
	// URL is the server URL; its path selects the socket.io endpoint.
	URL                string
	Namespace          string
	InsecureSkipVerify bool
}

// emitter is the part of *socket.Socket the sink uses.
type emitter interface {
	Emit(ev string, args ...any) error
	Disconnect() *socket.Socket
}

// SocketIOSink emits events over a socket.io connection.
type SocketIOSink struct {
	io        emitter
	connected *atomic.Bool
}

// DialSocketIO connects to a socket.io server and waits until the namespace
// handshake completes or ctx is done.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIOSink, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid socket.io URL %q", cfg.URL)
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "/"
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	connected := &atomic.Bool{}
	ready := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		connected.Store(true)
		select {
		case ready <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case ready <- err:
		default:
		}
	})
	io.On(types.EventName("disconnect"), func(...any) {
		connected.Store(false)
	})
	io.Connect()

	select {
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("socket.io %s: timed out while waiting for initial connection: %w", cfg.URL, ctx.Err())
	case err := <-ready:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io %s: %w", cfg.URL, err)
		}
	}
	return &SocketIOSink{io: io, connected: connected}, nil
}

// EventName returns the socket.io event an event of kind k is emitted as.
func EventName(k Kind) string {
	return DefaultEventPrefix + ":" + string(k)
}

// Publish implements Sink. Events are dropped while disconnected.
func (s *SocketIOSink) Publish(ev Event) error {
	if !s.connected.Load() {
		return errors.New("socket.io: not connected")
	}
	return s.io.Emit(EventName(ev.Kind), ev)
}

// Close implements Sink.
func (s *SocketIOSink) Close() error {
	s.io.Disconnect()
	return nil
}
