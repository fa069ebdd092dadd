package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketBridge pairs one client-facing websocket with one
// target-facing websocket and pumps frames in both directions until
// either side closes. Frame order is preserved per direction; the two
// directions are independent.
type WebSocketBridge struct {
	cfg      ClusterConfig
	broker   *CredentialBroker
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	ceiling  time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

// NewWebSocketBridge constructs the bridge.
func NewWebSocketBridge(cfg ClusterConfig, broker *CredentialBroker, metrics *Metrics, logger *slog.Logger) *WebSocketBridge {
	return &WebSocketBridge{
		cfg:    cfg,
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The access gate has already authorized the request; the
			// target validates Origin itself against the identity the
			// dialer presents.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		},
		ceiling: UpstreamCeiling,
		logger:  logger,
		metrics: metrics,
	}
}

// Serve completes the websocket handshake with the client, opens the
// authenticated upstream connection, and runs the two forwarding loops.
// The client handshake happens first so a slow or failing target does
// not leave the client hanging on an unaccepted upgrade.
func (b *WebSocketBridge) Serve(w http.ResponseWriter, r *http.Request, targetID, downstream string) {
	b.logger.Info("websocket connection request", "path", r.URL.Path, "target", targetID)

	client, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("client websocket upgrade failed", "error", err)
		return
	}
	defer client.Close()

	upstream, err := b.dialUpstream(r, targetID, downstream)
	if err != nil {
		// Deliberate simplification: the client sees an abrupt close,
		// no close frame, no retry.
		b.logger.Error("upstream websocket handshake failed", "target", targetID, "error", err)
		b.metrics.RecordBridge(targetID, "handshake_error")
		return
	}
	defer upstream.Close()

	b.metrics.RecordBridge(targetID, "opened")
	b.metrics.BridgeOpened()
	defer b.metrics.BridgeClosed()

	errc := make(chan error, 2)
	go pumpFrames(client, upstream, errc)
	go pumpFrames(upstream, client, errc)

	// First loop to finish wins; the ceiling is a leak guard independent
	// of frame activity.
	ceiling := time.NewTimer(b.ceiling)
	defer ceiling.Stop()

	select {
	case err := <-errc:
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			b.logger.Info("websocket bridge ended", "target", targetID, "error", err)
		}
	case <-ceiling.C:
		b.logger.Info("websocket bridge hit ceiling", "target", targetID)
	case <-r.Context().Done():
	}

	// Closing both connections unblocks the losing pump at its next
	// read or write; there is no graceful drain since the peer is no
	// longer consumable.
	client.Close()
	upstream.Close()
	<-errc
}

func (b *WebSocketBridge) dialUpstream(r *http.Request, targetID, downstream string) (*websocket.Conn, error) {
	token, err := b.broker.TargetToken(r.Context(), targetID)
	if err != nil {
		return nil, err
	}

	host := b.cfg.TargetHost(targetID)
	wsURL := "wss://" + host + downstream
	if r.URL.RawQuery != "" {
		wsURL += "?" + r.URL.RawQuery
	}

	// The target's handshake validates Origin against itself, so the
	// dialer presents the target's identity, not the client's.
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Host", host)
	header.Set("Origin", "https://"+host)
	for _, h := range []string{"Cookie", "User-Agent", "Sec-WebSocket-Protocol"} {
		if v := r.Header.Get(h); v != "" {
			header.Set(h, v)
		}
	}

	b.logger.Info("dialing upstream websocket", "url", wsURL, "target", targetID)
	conn, _, err := b.dialer.Dial(wsURL, header)
	if err != nil {
		return nil, &HandshakeError{Target: targetID, Err: err}
	}
	return conn, nil
}

// pumpFrames forwards text and binary frames 1:1 from src to dst until
// a read or write fails. Close and error frames surface as read errors
// and terminate the loop.
func pumpFrames(src, dst *websocket.Conn, errc chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errc <- err
			return
		}
	}
}
