package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ablylabs/termbridge/internal/crypto"
	"github.com/ablylabs/termbridge/internal/guard"
	"github.com/ablylabs/termbridge/internal/logutil"
	"github.com/ablylabs/termbridge/internal/protocol"
	"github.com/ablylabs/termbridge/internal/runner"
	"github.com/ablylabs/termbridge/internal/session"
	"github.com/coder/websocket"
)

// Package globals set from main.go during init.
var (
	Registry      *session.Registry
	Guard         *guard.Guard
	RunnerBackend string
	// TokenTTL bounds the lifetime of session resume tokens. It should cover
	// the maximum session duration plus the reconnect grace window; zero
	// disables expiry, for deployments with no absolute session cap.
	TokenTTL time.Duration
)

// inputRateLimit defines the maximum number of messages allowed per second
// per WebSocket connection. Messages beyond this rate are dropped.
const inputRateLimit = 200

// inputRateBurst is the token bucket burst size, allowing short bursts of
// rapid input (e.g., paste operations) before rate limiting kicks in.
const inputRateBurst = 200

// maxInputMessageSize caps a single terminal input message.
const maxInputMessageSize = 64 * 1024

// Upper bounds for terminal resize requests; values beyond these are clamped.
const (
	maxResizeCols uint16 = 500
	maxResizeRows uint16 = 200
)

// handshakeTimeout is how long the gateway waits for the initial handshake
// frame before dropping the connection.
const handshakeTimeout = 10 * time.Second

// TerminalWS handles WebSocket connections for interactive terminal sessions.
//
// The first frame must be a JSON handshake carrying credentials and,
// optionally, a session token to resume. On success the client receives a
// session-id frame, then the buffered output of a resumed session, then live
// shell output as binary frames. Input arrives as binary frames; resize and
// ping arrive as JSON text frames.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	conn.SetReadLimit(1024 * 1024)

	hs, ok := readHandshake(ctx, conn)
	if !ok {
		return
	}

	creds := guard.Credentials{APIKey: hs.APIKey, AccessToken: hs.AccessToken}
	scope, err := Guard.Authorize(ctx, creds)
	if err != nil {
		presented := hs.APIKey
		if presented == "" {
			presented = hs.AccessToken
		}
		log.Printf("Terminal handshake rejected (credential %s): %v", logutil.RedactCredential(presented), err)
		sendFrame(ctx, conn, protocol.ErrorFrame(protocol.CodeAuthFailed, "invalid credentials"))
		conn.Close(protocol.CloseAuthFailed, "invalid credentials")
		return
	}

	sess, resumed, ok := resolveSession(ctx, conn, hs, creds, scope, r.RemoteAddr)
	if !ok {
		return
	}

	token, err := crypto.MintSessionToken(sess.ID)
	if err != nil {
		log.Printf("Mint session token for %s: %v", sess.ID, err)
		conn.Close(protocol.CloseInternal, "internal error")
		return
	}
	if !sendFrame(ctx, conn, protocol.SessionIDFrame(token)) {
		return
	}

	wsw := &wsOutputWriter{conn: conn, ctx: ctx}
	if err := sess.Attach(wsw); err != nil {
		// The session can close or get claimed between resume and attach.
		switch {
		case errors.Is(err, session.ErrAttached):
			conn.Close(protocol.CloseAlreadyAttached, "session already attached")
		default:
			conn.Close(protocol.CloseEvicted, "session no longer exists")
		}
		return
	}
	defer sess.Detach()

	if resumed {
		log.Printf("Terminal session resumed: session=%s", sess.ID)
	}

	pumpConnection(ctx, conn, sess)
}

// readHandshake reads and validates the initial handshake frame.
func readHandshake(ctx context.Context, conn *websocket.Conn) (protocol.Handshake, bool) {
	var hs protocol.Handshake

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	msgType, data, err := conn.Read(hsCtx)
	cancel()
	if err != nil {
		return hs, false
	}
	if msgType != websocket.MessageText || json.Unmarshal(data, &hs) != nil {
		sendFrame(ctx, conn, protocol.ErrorFrame(protocol.CodeBadHandshake, "expected JSON handshake frame"))
		conn.Close(protocol.CloseBadHandshake, "bad handshake")
		return hs, false
	}
	return hs, true
}

// resolveSession resumes the session named in the handshake or creates a
// fresh one. An unresumable session ID yields a structured not-found error
// frame and then a brand-new session on the same connection.
func resolveSession(ctx context.Context, conn *websocket.Conn, hs protocol.Handshake, creds guard.Credentials, scope *guard.Scope, remoteAddr string) (*session.Session, bool, bool) {
	if hs.SessionID != "" {
		sess, err := resumeSession(hs.SessionID, creds)
		if err == nil {
			return sess, true, true
		}
		if errors.Is(err, session.ErrAttached) {
			conn.Close(protocol.CloseAlreadyAttached, "session already attached")
			return nil, false, false
		}
		log.Printf("Terminal resume failed: %v", err)
		if !sendFrame(ctx, conn, protocol.ErrorFrame(protocol.CodeNotFound, "session no longer exists")) {
			return nil, false, false
		}
	}

	spec := runner.LaunchSpec{
		Command: Guard.Policy().ShellCommand(),
		Env:     Guard.Policy().ShellEnv(scope),
		Cols:    80,
		Rows:    24,
	}
	sess, err := Registry.Create(ctx, scope, spec, remoteAddr)
	if err != nil {
		var startupErr *runner.StartupError
		switch {
		case errors.Is(err, runner.ErrCapacity):
			sendFrame(ctx, conn, protocol.ErrorFrame(protocol.CodeCapacity, "server at capacity, try again later"))
			conn.Close(protocol.CloseCapacity, "server at capacity")
		case errors.As(err, &startupErr):
			log.Printf("Terminal session startup failed: %v", err)
			sendFrame(ctx, conn, protocol.ErrorFrame(protocol.CodeStartupFailed, "failed to start shell"))
			conn.Close(protocol.CloseInternal, "failed to start shell")
		default:
			log.Printf("Terminal session creation failed: %v", err)
			conn.Close(protocol.CloseInternal, "internal error")
		}
		return nil, false, false
	}
	return sess, false, true
}

// resumeSession verifies the resume token, looks the session up, and checks
// the presented credentials match the session's scope. A credential mismatch
// reads the same as an unknown session, so tokens cannot be probed.
func resumeSession(token string, creds guard.Credentials) (*session.Session, error) {
	id, err := crypto.VerifySessionToken(token, TokenTTL)
	if err != nil {
		return nil, session.ErrNotFound
	}
	sess, err := Registry.Resume(id)
	if err != nil {
		return nil, err
	}
	if sess.Scope() != nil && !sess.Scope().Matches(creds) {
		log.Printf("Terminal resume credential mismatch: session=%s", logutil.SanitizeForLog(id))
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// pumpConnection relays client frames to the session until the socket drops
// or the session ends. A socket drop of any kind (clean close or abrupt
// network failure) leaves the session in its reconnect grace window; a
// session ending closes the socket with an exit frame.
func pumpConnection(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	go func() {
		select {
		case <-sess.Done():
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := newTokenBucket(inputRateBurst, inputRateLimit)

	for {
		msgType, data, err := conn.Read(relayCtx)
		if err != nil {
			break
		}

		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > maxInputMessageSize {
				log.Printf("Terminal input message too large: session=%s size=%d limit=%d",
					sess.ID, len(data), maxInputMessageSize)
				continue
			}
			sess.WriteInput(data)
			continue
		}

		var frame protocol.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case protocol.TypeResize:
			if frame.Cols > 0 && frame.Rows > 0 {
				sess.Resize(min(frame.Cols, maxResizeCols), min(frame.Rows, maxResizeRows))
			}
		case protocol.TypePing:
			sendFrame(relayCtx, conn, protocol.ServerFrame{Type: protocol.TypePong})
		}
	}

	// Either the socket failed (session enters grace via the deferred
	// Detach) or the session ended and the read was cancelled.
	select {
	case <-sess.Done():
	default:
		return
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if st := sess.ExitStatus(); st != nil {
		code := st.Code
		sendFrame(closeCtx, conn, protocol.ExitFrame(&code, st.Reason))
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	reason := sess.CloseReason()
	sendFrame(closeCtx, conn, protocol.ExitFrame(nil, reason))
	conn.Close(protocol.CloseEvicted, reason)
}

func sendFrame(ctx context.Context, conn *websocket.Conn, frame protocol.ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	return conn.Write(ctx, websocket.MessageText, data) == nil
}

// outputWriteTimeout bounds one socket write so a client that stops reading
// cannot pin the session's writer goroutine forever.
const outputWriteTimeout = 10 * time.Second

// wsOutputWriter wraps a WebSocket connection to implement io.Writer for
// replayed and live shell output.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(w.ctx, outputWriteTimeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// tokenBucket implements a simple token bucket rate limiter for terminal
// input messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
