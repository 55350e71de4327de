package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"filedrop/internal/model"
	"filedrop/internal/repository/registry"
	redisSvc "filedrop/internal/service/redis"
	"filedrop/internal/utils/log"
)

// Gateway is the development stand-in for the storage network: a
// content-addressed byte store, append-only inbox feeds, and the name
// service, all behind one HTTP surface.
type (
	Gateway struct {
		registry     *registry.Repo
		redisService *redisSvc.RedisService

		mu   sync.Mutex
		subs map[string]map[*websocket.Conn]struct{}
	}

	nameRecord struct {
		Name      string `json:"name"`
		PublicKey string `json:"publicKey,omitempty"`
		Overlay   string `json:"overlay"`
		BaseID    string `json:"baseId"`
		Proximity uint8  `json:"proximity"`
	}
)

func New(reg *registry.Repo, redisService *redisSvc.RedisService) *Gateway {
	return &Gateway{
		registry:     reg,
		redisService: redisService,
		subs:         make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (g *Gateway) Run(addr string) error {
	return http.ListenAndServe(addr, g.Router())
}

func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/names/{name}", g.HandleGetName()).Methods(http.MethodGet)
	r.HandleFunc("/names/{name}", g.HandlePutName()).Methods(http.MethodPut)
	r.HandleFunc("/bytes", g.HandlePutBytes()).Methods(http.MethodPost)
	r.HandleFunc("/bytes/{reference}", g.HandleGetBytes()).Methods(http.MethodGet)
	r.HandleFunc("/gsoc/subscribe/{overlay}/{base}", g.HandleSubscribe()).Methods(http.MethodGet)
	r.HandleFunc("/gsoc/{overlay}/{base}", g.HandlePollFeed()).Methods(http.MethodGet)
	r.HandleFunc("/gsoc/{overlay}/{base}", g.HandleAppendFeed()).Methods(http.MethodPost)

	return r
}

func (g *Gateway) HandleGetName() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		rec, err := g.registry.GetByName(r.Context(), name)
		if err != nil {
			log.Error("get name failed", zap.String("name", name), zap.Error(err))
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "name not registered", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, nameRecord{
			Name:      rec.Name,
			PublicKey: rec.PublicKey,
			Overlay:   rec.Overlay,
			BaseID:    rec.BaseID,
			Proximity: rec.Proximity,
		})
	}
}

func (g *Gateway) HandlePutName() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		var rec nameRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, "invalid record", http.StatusBadRequest)
			return
		}
		if rec.Overlay == "" || rec.BaseID == "" {
			http.Error(w, "overlay and baseId are required", http.StatusBadRequest)
			return
		}

		err := g.registry.Upsert(r.Context(), &registry.Record{
			Name:      name,
			PublicKey: rec.PublicKey,
			Overlay:   rec.Overlay,
			BaseID:    rec.BaseID,
			Proximity: rec.Proximity,
		})
		if err != nil {
			log.Error("upsert name failed", zap.String("name", name), zap.Error(err))
			http.Error(w, "register failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) HandlePutBytes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}

		sum := sha256.Sum256(data)
		reference := hex.EncodeToString(sum[:])
		if err := g.redisService.Set(r.Context(), bytesKey(reference), data, 0); err != nil {
			log.Error("store bytes failed", zap.Error(err))
			http.Error(w, "store failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"reference": reference})
	}
}

func (g *Gateway) HandleGetBytes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := mux.Vars(r)["reference"]

		data, err := g.redisService.Get(r.Context(), bytesKey(reference))
		if errors.Is(err, redisSvc.ErrNil) {
			http.Error(w, "reference not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("get bytes failed", zap.String("reference", reference), zap.Error(err))
			http.Error(w, "retrieve failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte(data))
	}
}

func (g *Gateway) HandlePollFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)

		msgs, err := g.feedSlice(r.Context(), vars["overlay"], vars["base"], from)
		if err != nil {
			log.Error("poll feed failed", zap.Error(err))
			http.Error(w, "poll failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func (g *Gateway) HandleAppendFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		var msg model.GSOCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Reference == "" {
			http.Error(w, "invalid descriptor", http.StatusBadRequest)
			return
		}

		data, _ := json.Marshal(msg)
		if err := g.redisService.RPush(r.Context(), feedKey(vars["overlay"], vars["base"]), data); err != nil {
			log.Error("append feed failed", zap.Error(err))
			http.Error(w, "append failed", http.StatusInternalServerError)
			return
		}

		g.broadcast(topic(vars["overlay"], vars["base"]), data)
		w.WriteHeader(http.StatusCreated)
	}
}

func (g *Gateway) HandleSubscribe() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		overlay, base := vars["overlay"], vars["base"]
		from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "failed to upgrade", http.StatusInternalServerError)
			return
		}

		key := topic(overlay, base)
		g.register(key, conn)

		// Replay happens after registration so a concurrent append is
		// never lost; a descriptor can arrive twice instead, which the
		// consumer's dedup absorbs.
		msgs, err := g.feedSlice(context.Background(), overlay, base, from)
		if err != nil {
			log.Error("feed replay failed", zap.Error(err))
			g.unregister(key, conn)
			conn.Close()
			return
		}
		g.mu.Lock()
		for _, m := range msgs {
			data, _ := json.Marshal(m)
			conn.WriteMessage(websocket.TextMessage, data)
		}
		g.mu.Unlock()

		go g.watchConn(key, conn)
	}
}

// watchConn drains the client side of the socket so closes are noticed.
func (g *Gateway) watchConn(key string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debug("feed subscriber disconnected", zap.Error(err))
			g.unregister(key, conn)
			conn.Close()
			return
		}
	}
}

func (g *Gateway) register(key string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subs[key] == nil {
		g.subs[key] = make(map[*websocket.Conn]struct{})
	}
	g.subs[key][conn] = struct{}{}
}

func (g *Gateway) unregister(key string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subs[key], conn)
}

// All websocket writes happen under g.mu, so replay and broadcast never
// interleave on one connection.
func (g *Gateway) broadcast(key string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.subs[key] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("broadcast write failed", zap.Error(err))
		}
	}
}

func (g *Gateway) feedSlice(ctx context.Context, overlay, base string, from uint64) ([]model.GSOCMessage, error) {
	vals, err := g.redisService.LRange(ctx, feedKey(overlay, base))
	if err != nil {
		return nil, err
	}

	msgs := make([]model.GSOCMessage, 0, len(vals))
	for i, v := range vals {
		if uint64(i) < from {
			continue
		}
		var m model.GSOCMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decode feed slot %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func bytesKey(reference string) string {
	return "bytes:" + reference
}

func feedKey(overlay, base string) string {
	return fmt.Sprintf("gsoc:%s:%s", overlay, base)
}

func topic(overlay, base string) string {
	return overlay + "/" + base
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
