package fake_kernel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// KernelModel is the kernel resource of the Jupyter Kernel Gateway REST API.
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
}

// FakeGateway is an in-process Jupyter Kernel Gateway whose kernels are Responders.
type FakeGateway struct {
	Server *httptest.Server

	// KernelNames are the kernel specs the gateway can launch.
	KernelNames []string

	// Responder answers the channel messages of every launched kernel.
	Responder *Responder

	mu      sync.Mutex
	kernels map[string]*KernelModel

	Launched atomic.Int32
	Deleted  atomic.Int32

	log logger.Logger
}

// NewFakeGateway starts a gateway that can launch "python3" kernels.
func NewFakeGateway() *FakeGateway {
	g := &FakeGateway{
		KernelNames: []string{"python3"},
		Responder:   &Responder{},
		kernels:     make(map[string]*KernelModel),
	}

	config.InitLogger(&g.log, "FakeGateway ")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/kernels", g.handleLaunch)
	mux.HandleFunc("GET /api/kernels", g.handleList)
	mux.HandleFunc("DELETE /api/kernels/{id}", g.handleDelete)
	mux.HandleFunc("GET /api/kernels/{id}/channels", g.handleChannels)
	g.Server = httptest.NewServer(mux)

	return g
}

// Address returns the base URL of the gateway.
func (g *FakeGateway) Address() string {
	return g.Server.URL
}

// Running returns the number of kernels that have been launched and not deleted.
func (g *FakeGateway) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.kernels)
}

func (g *FakeGateway) Close() {
	g.Server.Close()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *FakeGateway) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": err.Error()})
		return
	}

	known := false
	for _, name := range g.KernelNames {
		known = known || name == body.Name
	}
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "No such kernel named " + body.Name})
		return
	}

	kernel := &KernelModel{ID: uuid.NewString(), Name: body.Name, ExecutionState: "starting"}

	g.mu.Lock()
	g.kernels[kernel.ID] = kernel
	g.mu.Unlock()

	g.Launched.Add(1)
	g.log.Debug("Launched kernel %s (%s).", kernel.ID, kernel.Name)
	writeJSON(w, http.StatusCreated, kernel)
}

func (g *FakeGateway) handleList(w http.ResponseWriter, _ *http.Request) {
	g.mu.Lock()
	kernels := make([]*KernelModel, 0, len(g.kernels))
	for _, kernel := range g.kernels {
		kernels = append(kernels, kernel)
	}
	g.mu.Unlock()

	writeJSON(w, http.StatusOK, kernels)
}

func (g *FakeGateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	g.mu.Lock()
	_, ok := g.kernels[id]
	delete(g.kernels, id)
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Kernel does not exist: " + id})
		return
	}

	g.Deleted.Add(1)
	g.log.Debug("Deleted kernel %s.", id)
	w.WriteHeader(http.StatusNoContent)
}

func (g *FakeGateway) handleChannels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	g.mu.Lock()
	_, ok := g.kernels[id]
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Kernel does not exist: " + id})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		g.log.Error("Failed to accept websocket connection because: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(64 << 20)

	ctx := r.Context()
	emit := func(msg *messaging.Message) error {
		return wsjson.Write(ctx, conn, msg)
	}

	for {
		var msg messaging.Message
		if err = wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				g.log.Debug("Channels of kernel %s closed: %v", id, err)
			}
			return
		}

		g.log.Debug("Kernel %s received \"%s\" on %s.", id, msg.Type(), msg.Channel)
		if err = g.Responder.Respond(&msg, emit); err != nil && context.Cause(ctx) == nil {
			g.log.Error("Kernel %s failed to respond to \"%s\": %v", id, msg.Type(), err)
			return
		}
	}
}
