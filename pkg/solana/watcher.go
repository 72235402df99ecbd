package solana

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
)

const (
	maxReconnectAttempts = 3
	reconnectDelay       = 2 * time.Second
)

// SignatureWatcher delivers confirmation results through signatureSubscribe on the
// cluster websocket. One connection per watched signature. It implements
// domain.ConfirmationWatcher.
type SignatureWatcher struct {
	wsEndpoint string
	commitment string
	dialer     *websocket.Dialer
	watches    sync.Map // signature -> *signatureWatch
}

type signatureWatch struct {
	signature string
	onResult  func(domain.ConfirmationResult)
	stopCh    chan struct{}
	stopOnce  sync.Once
	fireOnce  sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSignatureWatcher creates a watcher for a ws:// or wss:// endpoint.
func NewSignatureWatcher(wsEndpoint string) *SignatureWatcher {
	return &SignatureWatcher{
		wsEndpoint: wsEndpoint,
		commitment: "confirmed",
		dialer:     websocket.DefaultDialer,
	}
}

type wsNotification struct {
	Method string `json:"method"`
	ID     *int   `json:"id"`
	Params struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	} `json:"params"`
	Error json.RawMessage `json:"error"`
}

// Watch subscribes to signature and calls onResult at most once with a CONFIRMED or
// FAILED result. The returned func cancels the watch.
func (w *SignatureWatcher) Watch(ctx context.Context, signature string, onResult func(domain.ConfirmationResult)) func() {
	sw := &signatureWatch{
		signature: signature,
		onResult:  onResult,
		stopCh:    make(chan struct{}),
	}
	if prev, loaded := w.watches.LoadOrStore(signature, sw); loaded {
		prev.(*signatureWatch).stop()
		w.watches.Store(signature, sw)
	}

	go w.run(ctx, sw)

	return func() {
		sw.stop()
		w.watches.CompareAndDelete(signature, sw)
	}
}

// Active returns the number of signatures being watched.
func (w *SignatureWatcher) Active() int {
	n := 0
	w.watches.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (sw *signatureWatch) stop() {
	sw.stopOnce.Do(func() {
		close(sw.stopCh)
		sw.mu.Lock()
		if sw.conn != nil {
			sw.conn.Close()
		}
		sw.mu.Unlock()
	})
}

func (sw *signatureWatch) stopped() bool {
	select {
	case <-sw.stopCh:
		return true
	default:
		return false
	}
}

func (w *SignatureWatcher) run(ctx context.Context, sw *signatureWatch) {
	defer w.watches.CompareAndDelete(sw.signature, sw)
	fields := log.Fields{"signature": sw.signature}

	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if sw.stopped() || ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			select {
			case <-time.After(reconnectDelay):
			case <-sw.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		done, err := w.subscribeOnce(ctx, sw)
		if done {
			return
		}
		if err != nil && !sw.stopped() {
			log.WithFields(fields).WithField("attempt", attempt+1).Warnf("signature subscription dropped: %v", err)
		}
	}
	log.WithFields(fields).Warn("giving up on live confirmation, relying on timeout")
}

// subscribeOnce runs one connection. done is true once a result was delivered or
// the watch was stopped.
func (w *SignatureWatcher) subscribeOnce(ctx context.Context, sw *signatureWatch) (bool, error) {
	c, _, err := w.dialer.DialContext(ctx, w.wsEndpoint, nil)
	if err != nil {
		return false, err
	}
	sw.mu.Lock()
	if sw.stopped() {
		sw.mu.Unlock()
		c.Close()
		return true, nil
	}
	sw.conn = c
	sw.mu.Unlock()
	defer c.Close()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "signatureSubscribe",
		"params": []interface{}{
			sw.signature,
			map[string]interface{}{"commitment": w.commitment},
		},
	}
	if err := c.WriteJSON(subscribeMsg); err != nil {
		return false, err
	}

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if sw.stopped() {
				return true, nil
			}
			return false, err
		}

		var n wsNotification
		if err := json.Unmarshal(message, &n); err != nil {
			continue
		}
		if len(n.Error) > 0 && string(n.Error) != "null" {
			return false, &subscribeError{msg: string(n.Error)}
		}
		if n.Method != "signatureNotification" {
			continue
		}

		var value struct {
			Err json.RawMessage `json:"err"`
		}
		if err := json.Unmarshal(n.Params.Result.Value, &value); err != nil {
			continue
		}
		res := domain.ConfirmationResult{Signature: sw.signature, Status: domain.LedgerConfirmed}
		if len(value.Err) > 0 && string(value.Err) != "null" {
			res.Status = domain.LedgerFailed
			res.Reason = string(value.Err)
		}
		if !sw.stopped() {
			sw.fireOnce.Do(func() { sw.onResult(res) })
		}
		return true, nil
	}
}

type subscribeError struct{ msg string }

func (e *subscribeError) Error() string { return "subscribe rejected: " + e.msg }
