package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/encodeous/dvsim/protocol"
	"github.com/encodeous/dvsim/state"
	"github.com/go-chi/chi/v5"
)

const (
	sendPacketOk     = "Packet sent successfully\n"
	sendPacketFailed = "Failed to send packet\n"
)

// IngestApi lets applications hand payloads to a leaf over HTTP
type IngestApi struct {
	server *http.Server
	done   chan struct{}
}

func (a *IngestApi) Init(s *state.State) error {
	leaf := Get[*Leaf](s)
	ln, err := net.Listen("tcp", s.ApiBind.String())
	if err != nil {
		return err
	}
	a.server = &http.Server{
		Handler:           newIngestRouter(s.Log, leaf.SendPayload),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.Context
		},
	}
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("ingestion api stopped", "err", err)
		}
	}()
	s.Log.Info("ingestion api listening", "bind", ln.Addr().String())
	return nil
}

func (a *IngestApi) Cleanup(s *state.State) error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.server.Shutdown(ctx)
	<-a.done
	return err
}

func newIngestRouter(log *slog.Logger, send func(payload []byte) error) http.Handler {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	})
	r.Post("/send-packet", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(state.PayloadBufferSize)))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, sendPacketFailed, http.StatusInternalServerError)
			return
		}
		if _, err := protocol.PayloadDestination(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := send(body); err != nil {
			log.Warn("failed to send packet", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, sendPacketFailed)
			return
		}
		log.Debug("packet sent", "payload", string(body))
		_, _ = io.WriteString(w, sendPacketOk)
	})
	return r
}
