package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echoscribe/echoscribe/internal/session"
)

// maxFrameSize bounds one inbound frame; chunk audio payloads arrive base64
// encoded inside the frame.
const maxFrameSize = 8 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Coordinator is the inbound event surface the websocket endpoint drives.
type Coordinator interface {
	Start(ctx context.Context, sessionID, userID, source string) (session.Status, error)
	Chunk(ctx context.Context, sessionID string, in session.ChunkInput) (session.ChunkAck, error)
	Pause(ctx context.Context, sessionID string) (session.Status, error)
	Resume(ctx context.Context, sessionID string) (session.Status, error)
	Stop(ctx context.Context, sessionID string) error
}

// inboundFrame is the JSON envelope for every client-to-server event.
type inboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Sequence  *int64 `json:"sequence,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, coord Coordinator) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		conn.SetReadLimit(maxFrameSize)

		// out is deliberately never closed: late events from an async stop
		// land in the buffer and are dropped with the connection.
		out := make(chan []byte, 256)
		done := make(chan struct{})
		joined := make(map[string]struct{})
		defer func() {
			for id := range joined {
				hub.Unsubscribe(id, out)
			}
			close(done)
		}()

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case msg := <-out:
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		sendEvent(out, ConnectionEvent{Event: newEvent("connection", time.Now().UTC()), Connected: true})

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				sendError(out, "", session.ConditionValidation, "malformed event: "+err.Error())
				continue
			}

			if !validSessionID(frame.SessionID) {
				sendError(out, frame.SessionID, session.ConditionValidation, "invalid session id")
				continue
			}

			// Touching a session id implicitly joins its room, so this
			// connection sees every subsequent broadcast for it.
			if _, ok := joined[frame.SessionID]; !ok {
				hub.Subscribe(frame.SessionID, out)
				joined[frame.SessionID] = struct{}{}
			}

			dispatchFrame(r.Context(), coord, out, frame)

			select {
			case <-writerDone:
				return
			default:
			}
		}
	})
}

func dispatchFrame(ctx context.Context, coord Coordinator, out chan []byte, frame inboundFrame) {
	switch frame.Type {
	case "start":
		status, err := coord.Start(ctx, frame.SessionID, frame.UserID, frame.Source)
		if err != nil {
			sendError(out, frame.SessionID, session.ConditionFor(err), err.Error())
			return
		}
		sendEvent(out, StartAckEvent{
			Event:     newEvent("start_ack", time.Now().UTC()),
			SessionID: frame.SessionID,
			Status:    string(status),
		})

	case "chunk":
		in, verr := chunkInputFromFrame(frame)
		if verr != nil {
			sendError(out, frame.SessionID, session.ConditionValidation, verr.Error())
			return
		}
		ack, err := coord.Chunk(ctx, frame.SessionID, in)
		if err != nil {
			sendError(out, frame.SessionID, session.ConditionFor(err), err.Error())
			return
		}
		sendEvent(out, ChunkAckEvent{
			Event:             newEvent("chunk_ack", time.Now().UTC()),
			SessionID:         frame.SessionID,
			Sequence:          ack.Sequence,
			ContiguousThrough: ack.ContiguousThrough,
			Missing:           ack.Missing,
		})

	case "pause":
		if _, err := coord.Pause(ctx, frame.SessionID); err != nil {
			sendError(out, frame.SessionID, session.ConditionFor(err), err.Error())
		}

	case "resume":
		if _, err := coord.Resume(ctx, frame.SessionID); err != nil {
			sendError(out, frame.SessionID, session.ConditionFor(err), err.Error())
		}

	case "stop":
		// Finalization can take seconds; run it off the read loop so other
		// sessions on this connection are not stalled. Outcomes arrive as
		// broadcast events.
		go func() {
			if err := coord.Stop(context.WithoutCancel(ctx), frame.SessionID); err != nil {
				sendError(out, frame.SessionID, session.ConditionFor(err), err.Error())
			}
		}()

	default:
		sendError(out, frame.SessionID, session.ConditionValidation, "unknown event type "+frame.Type)
	}
}

func chunkInputFromFrame(frame inboundFrame) (session.ChunkInput, error) {
	if frame.Sequence == nil {
		return session.ChunkInput{}, &session.ValidationError{Field: "sequence", Reason: "required"}
	}

	startedAt, err := parseEventTime(frame.StartedAt, "started_at")
	if err != nil {
		return session.ChunkInput{}, err
	}
	endedAt, err := parseEventTime(frame.EndedAt, "ended_at")
	if err != nil {
		return session.ChunkInput{}, err
	}

	return session.ChunkInput{
		Sequence:  *frame.Sequence,
		Speaker:   frame.Speaker,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Audio:     frame.Audio,
		MimeType:  frame.MimeType,
	}, nil
}

func parseEventTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &session.ValidationError{Field: field, Reason: "must be RFC 3339"}
	}
	return t.UTC(), nil
}

func sendEvent(out chan []byte, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	select {
	case out <- payload:
	default:
	}
}

func sendError(out chan []byte, sessionID string, cond session.Condition, message string) {
	sendEvent(out, ErrorEvent{
		Event:     newEvent("error", time.Now().UTC()),
		SessionID: sessionID,
		Condition: string(cond),
		Message:   message,
	})
}
