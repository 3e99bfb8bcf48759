// Command sync-engine-client runs a standalone client process: it starts
// offline (buffering drafts locally), then attaches a websocket transport
// once one is configured, demonstrating the runtime's online/offline
// switch.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/webitel/sync-engine/internal/client/runtime"
	"github.com/webitel/sync-engine/internal/client/transport/authclient"
	"github.com/webitel/sync-engine/internal/client/transport/offline"
	"github.com/webitel/sync-engine/internal/client/transport/wsclient"
	"github.com/webitel/sync-engine/internal/client/viewcache"
	"github.com/webitel/sync-engine/internal/obs"
	"github.com/webitel/sync-engine/internal/store/sqlclient"
)

// staticToken hands back the client id itself as its own connect token,
// the same identity scheme auth.AllowAll verifies on the server. Real
// deployments supply a TokenSource backed by an actual identity provider.
type staticToken struct{ clientID string }

func (s staticToken) FetchToken(_ context.Context, clientID string) (string, error) {
	return s.clientID, nil
}

func main() {
	serverURL := flag.String("server-url", "", "ws(s):// URL of the sync server; empty starts offline-only")
	clientID := flag.String("client-id", "", "client identity / connect token")
	storePath := flag.String("store-path", "./client-store.db", "path to the local SQLite store")
	flag.Parse()

	logger := obs.NewLogger(obs.LoggerConfig{Level: "info", JSON: false})

	if *clientID == "" {
		logger.Error("FATAL", "err", "client-id is required")
		os.Exit(1)
	}

	store, err := sqlclient.Open(*storePath)
	if err != nil {
		logger.Error("FATAL", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	cachedStore := viewcache.Wrap(store, 512)
	local := offline.New(256)

	tokens := authclient.New(staticToken{clientID: *clientID}, 5, 30*time.Second)
	token, err := tokens.FetchToken(context.Background(), *clientID)
	if err != nil {
		logger.Error("FATAL", "err", err)
		os.Exit(1)
	}

	rt := runtime.New(runtime.Deps{
		Store:     cachedStore,
		Transport: local,
		Logger:    logger,
		Token:     token,
		ClientID:  *clientID,
		SyncLimit: 500,
		Reconnect: runtime.ReconnectConfig{
			Enabled:      true,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Factor:       2,
			Jitter:       0.2,
		},
	}, nil)

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		logger.Error("FATAL", "err", err)
		os.Exit(1)
	}
	defer rt.Stop()

	if *serverURL != "" {
		online := wsclient.New(*serverURL)
		if err := online.Connect(ctx); err != nil {
			logger.Error("ONLINE_CONNECT_FAILED", "err", err)
		} else if err := local.SetOnlineTransport(ctx, online); err != nil {
			logger.Error("ONLINE_ATTACH_FAILED", "err", err)
		}
	}

	select {}
}
