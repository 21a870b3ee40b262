// Package httpapi is the server's external-facing surface: a small
// net/http mux plus a gorilla/websocket upgrade handler for pushing
// subset archives to connected clients.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"camtiles/internal/camera"
	"camtiles/internal/viewport"
)

// Server wires the viewport pipeline and camera store into HTTP and
// WebSocket handlers.
type Server struct {
	Pipeline    *viewport.Pipeline
	Camera      *camera.Store
	CORSOrigins []string

	upgrader websocket.Upgrader
}

// NewServer returns a Server ready to have its handlers registered.
func NewServer(pipeline *viewport.Pipeline, store *camera.Store, corsOrigins []string) *Server {
	s := &Server{Pipeline: pipeline, Camera: store, CORSOrigins: corsOrigins}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Mux builds the full handler tree.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/camera-state", s.withCORS(s.handleCameraState))
	mux.HandleFunc("/ws/camera", s.handleWebSocket)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range s.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return len(s.CORSOrigins) == 0
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", corsOriginHeader(s.CORSOrigins, r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func corsOriginHeader(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if a == origin {
			return origin
		}
	}
	return "null"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// boundsJSON is the west/south/east/north request bounds, in degrees.
type boundsJSON struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// subsetRequestMessage is the JSON body of POST /api/camera-state and
// of each WebSocket text frame a client sends.
type subsetRequestMessage struct {
	Bounds         boundsJSON  `json:"bounds"`
	MetersPerPixel float64     `json:"metersPerPixel"`
	Zoom           float64     `json:"zoom"`
	Mode           camera.Mode `json:"mode,omitempty"`
	// AcceptBinary negotiates the deferred-binary-frame response over
	// WebSocket; it has no effect on the plain HTTP endpoint.
	AcceptBinary bool `json:"acceptBinary,omitempty"`
}

func (m subsetRequestMessage) toViewportRequest() viewport.Request {
	return viewport.Request{
		West: m.Bounds.West, South: m.Bounds.South,
		East: m.Bounds.East, North: m.Bounds.North,
		MetersPerPixel: m.MetersPerPixel,
		Zoom:           m.Zoom,
		Mode:           m.Mode,
	}
}

// viewBoundsJSON is the reprojected viewport AABB in the planar
// metric CRS.
type viewBoundsJSON struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// pmtilesSubsetJSON describes the subset archive embedded in a
// response, if any tiles were collected.
type pmtilesSubsetJSON struct {
	Zoom      uint8  `json:"zoom"`
	TileCount int    `json:"tile_count"`
	Encoding  string `json:"encoding"`
	Data      string `json:"data,omitempty"`
}

// subsetResponseEnvelope is the success response for both the POST
// endpoint and each WebSocket reply.
type subsetResponseEnvelope struct {
	Status        string             `json:"status"`
	Mode          camera.Mode        `json:"mode"`
	VisibleCount  int                `json:"visible_count"`
	ViewBounds    viewBoundsJSON     `json:"view_bounds"`
	DetailEnabled bool               `json:"detail_enabled"`
	DetailFactor  float64            `json:"detail_factor"`
	PMTilesSubset *pmtilesSubsetJSON `json:"pmtiles_subset"`
}

// errorEnvelope is returned (400, or as a WS text frame) when a
// request cannot be parsed or built into a useful response.
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// buildEnvelope translates a viewport.Response into the documented
// wire shape. acceptBinary controls whether the archive is inlined as
// base64 or announced as following in its own binary frame; over
// plain HTTP it is always inlined.
func buildEnvelope(resp *viewport.Response, acceptBinary bool) subsetResponseEnvelope {
	env := subsetResponseEnvelope{
		Status: "ok",
		Mode:   resp.Mode,
		ViewBounds: viewBoundsJSON{
			MinX: resp.ViewBounds.MinX, MinY: resp.ViewBounds.MinY,
			MaxX: resp.ViewBounds.MaxX, MaxY: resp.ViewBounds.MaxY,
		},
		VisibleCount:  resp.VisibleFeatureCount,
		DetailEnabled: resp.DetailEnabled,
		DetailFactor:  resp.DetailFactor,
	}
	if resp.TileCount > 0 {
		sub := &pmtilesSubsetJSON{Zoom: resp.SubsetZoom, TileCount: resp.TileCount}
		if acceptBinary {
			sub.Encoding = "binary"
		} else {
			sub.Encoding = "base64"
			sub.Data = base64.StdEncoding.EncodeToString(resp.Archive)
		}
		env.PMTilesSubset = sub
	}
	return env
}

func (s *Server) handleCameraState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state, ok := s.Camera.Current()
		if !ok {
			http.Error(w, "no camera state published yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case http.MethodPost:
		var req subsetRequestMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Status: "error", Message: err.Error()})
			return
		}
		resp, err := s.Pipeline.Build(req.toViewportRequest())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Status: "error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, buildEnvelope(resp, false))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleWebSocket implements the camera-state push loop: the client
// streams viewport updates, the server streams back subset-archive
// envelopes, with periodic pings keeping the connection alive. Any
// frame arriving unmasked from the client is a protocol violation per
// RFC 6455 §5.1 (servers must only accept masked frames) and closes
// the connection rather than being processed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID, _ := shortid.Generate()
	logger := log.WithField("conn", connID)
	logger.Debug("websocket connected")
	defer logger.Debug("websocket closed")

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range pingTicker.C {
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
	defer func() { <-done }()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("websocket read ended")
			}
			pingTicker.Stop()
			return
		}

		var req subsetRequestMessage
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, mustMarshal(errorEnvelope{Status: "error", Message: err.Error()}))
			continue
		}

		resp, err := s.Pipeline.Build(req.toViewportRequest())
		if err != nil {
			logger.WithError(err).Warn("viewport build failed")
			_ = conn.WriteMessage(websocket.TextMessage, mustMarshal(errorEnvelope{Status: "error", Message: err.Error()}))
			continue
		}

		env := buildEnvelope(resp, req.AcceptBinary)
		envBytes, err := json.Marshal(env)
		if err != nil {
			logger.WithError(err).Error("marshalling subset envelope")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, envBytes); err != nil {
			return
		}
		if req.AcceptBinary && resp.TileCount > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, resp.Archive); err != nil {
				return
			}
		}
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"status":"error","message":"internal"}`)
	}
	return b
}
