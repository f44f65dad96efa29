package main

import (
	"context"
	"crypto/rand"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Polqt/crdtcollab/awareness"
	"github.com/Polqt/crdtcollab/doc"
	"github.com/Polqt/crdtcollab/provider"
	"github.com/Polqt/crdtcollab/transport"
)

// This binary is a thin demo client: it joins one document room on a
// relay server and logs every transport/sync/awareness event. It exists to
// exercise the provider package end-to-end against a real server; running
// a relay server is not this module's job (see relaytest for the in-process
// test fixture that stands in for one).
func main() {
	serverURL := flag.String("server", "ws://localhost:1234", "collaboration relay URL")
	room := flag.String("room", "demo", "room name to join")
	nodeID := flag.String("node", "", "node id for this replica (random if empty)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *nodeID == "" {
		*nodeID = randomNodeID()
	}

	document := doc.NewRGADocument(hashClientID(*nodeID), *nodeID)
	aw := awareness.New(document.ClientID(), awareness.DefaultOutdatedTimeout)

	cfg := provider.DefaultConfig()
	cfg.Logger = logger
	cfg.ResyncInterval = 30 * time.Second

	p, err := provider.New(*serverURL, *room, document, aw, cfg)
	if err != nil {
		logger.Error("provider: construct failed", "err", err)
		os.Exit(1)
	}

	p.OnStatus(func(s transport.State) { logger.Info("transport status", "state", s.String()) })
	p.OnSync(func(v bool) { logger.Info("sync", "synced", v) })
	p.OnSynced(func(v bool) { logger.Info("synced", "value", v) })
	p.OnConnectionError(func(err error) { logger.Warn("connection error", "err", err) })
	p.OnConnectionClose(func() { logger.Info("connection closed") })
	p.OnPermissionDenied(func(reason string) { logger.Warn("permission denied", "reason", reason) })

	aw.OnChange(func(e awareness.ChangeEvent) {
		logger.Info("awareness change", "added", e.Added, "updated", e.Updated, "removed", e.Removed, "origin", string(e.Origin))
	})
	document.OnUpdate(func(update []byte, origin any) {
		logger.Info("document update", "bytes", len(update), "text", document.Text())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("joined room", "server", *serverURL, "room", *room, "node", *nodeID)
	<-ctx.Done()

	logger.Info("shutting down")
	p.Destroy()
}

func randomNodeID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	for i, v := range b {
		b[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(b)
}

// hashClientID derives a stable uint32 client id from a node name so the
// same --node flag always maps to the same document-engine identity.
func hashClientID(nodeID string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(nodeID); i++ {
		h ^= uint32(nodeID[i])
		h *= 16777619
	}
	if h == 0 {
		return 1
	}
	return h
}
