package container

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiVersion = "1.45"

type fakeContainer struct {
	ID     string
	Name   string
	Image  string
	Env    []string
	Labels map[string]string
	Status string
}

// fakeEngine emulates the handful of engine endpoints Docker uses.
type fakeEngine struct {
	mu           sync.Mutex
	imagePresent bool
	pulls        int
	containers   map[string]*fakeContainer // by name
	failStart    bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: make(map[string]*fakeContainer)}
}

func (f *fakeEngine) lookup(ref string) *fakeContainer {
	if c, ok := f.containers[ref]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.ID == ref {
			return c
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()
	prefix := "/v" + apiVersion

	mux.HandleFunc("POST "+prefix+"/containers/create", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body struct {
			Image  string
			Env    []string
			Labels map[string]string
		}
		json.NewDecoder(r.Body).Decode(&body)
		name := r.URL.Query().Get("name")

		if !f.imagePresent {
			writeError(w, http.StatusNotFound, "No such image: "+body.Image)
			return
		}
		if _, ok := f.containers[name]; ok {
			writeError(w, http.StatusConflict, `Conflict. The container name "/`+name+`" is already in use`)
			return
		}
		c := &fakeContainer{ID: "id-" + name, Name: name, Image: body.Image, Env: body.Env, Labels: body.Labels, Status: "created"}
		f.containers[name] = c
		writeJSON(w, http.StatusCreated, map[string]any{"Id": c.ID, "Warnings": []string{}})
	})

	mux.HandleFunc("POST "+prefix+"/containers/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failStart {
			writeError(w, http.StatusInternalServerError, "cannot start")
			return
		}
		c := f.lookup(r.PathValue("id"))
		if c == nil {
			writeError(w, http.StatusNotFound, "No such container")
			return
		}
		c.Status = "running"
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST "+prefix+"/containers/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c := f.lookup(r.PathValue("id"))
		if c == nil {
			writeError(w, http.StatusNotFound, "No such container")
			return
		}
		c.Status = "exited"
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET "+prefix+"/containers/{id}/json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c := f.lookup(r.PathValue("id"))
		if c == nil {
			writeError(w, http.StatusNotFound, "No such container")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"Id":     c.ID,
			"Name":   "/" + c.Name,
			"State":  map[string]any{"Status": c.Status},
			"Config": map[string]any{"Image": c.Image, "Env": c.Env, "Labels": c.Labels},
		})
	})

	mux.HandleFunc("GET "+prefix+"/containers/json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var args map[string]map[string]bool
		json.Unmarshal([]byte(r.URL.Query().Get("filters")), &args)

		out := []map[string]any{}
		for _, c := range f.containers {
			match := len(args["name"]) == 0
			for n := range args["name"] {
				if strings.Contains(c.Name, n) {
					match = true
				}
			}
			if match {
				out = append(out, map[string]any{"Id": c.ID, "Names": []string{"/" + c.Name}, "State": c.Status})
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST "+prefix+"/images/create", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pulls++
		f.imagePresent = true
		writeJSON(w, http.StatusOK, map[string]string{"status": "Downloaded newer image"})
	})

	return mux
}

func newTestDocker(t *testing.T, engine *fakeEngine) *Docker {
	t.Helper()

	server := httptest.NewServer(engine.handler())
	t.Cleanup(server.Close)

	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+strings.TrimPrefix(server.URL, "http://")),
		client.WithVersion(apiVersion),
		client.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	d := NewDocker(DockerOptions{Client: cli, CallTimeout: 5 * time.Second, Logger: zerolog.Nop()})
	t.Cleanup(func() { d.Close() })
	return d
}

func testSpec(name string) LaunchSpec {
	return LaunchSpec{
		Name:          name,
		Image:         "ticker-bot:latest",
		Env:           map[string]string{"TICKER": "btc", "DISCORD_BOT_TOKEN": "t1"},
		Labels:        WorkerLabels("btc", "abc", "CRYPTO"),
		RestartPolicy: RestartUnlessStopped,
	}
}

func TestDocker_LaunchThenInspect(t *testing.T) {
	engine := newFakeEngine()
	engine.imagePresent = true
	d := newTestDocker(t, engine)
	ctx := context.Background()

	h, err := d.Launch(ctx, testSpec("ticker-btc"))
	require.NoError(t, err)
	assert.Equal(t, "ticker-btc", h.Name)
	assert.Equal(t, "id-ticker-btc", h.ID)
	assert.True(t, h.Running())

	got, err := d.Inspect(ctx, "ticker-btc")
	require.NoError(t, err)
	assert.Equal(t, "ticker-btc", got.Name)
	assert.Equal(t, "running", got.Status)

	c := engine.containers["ticker-btc"]
	require.NotNil(t, c)
	assert.Equal(t, []string{"DISCORD_BOT_TOKEN=t1", "TICKER=btc"}, c.Env)
	assert.Equal(t, "btc", c.Labels[LabelTicker])
	assert.Equal(t, 0, engine.pulls)
}

func TestDocker_LaunchPullsMissingImage(t *testing.T) {
	engine := newFakeEngine()
	d := newTestDocker(t, engine)

	h, err := d.Launch(context.Background(), testSpec("ticker-eth"))
	require.NoError(t, err)
	assert.Equal(t, "ticker-eth", h.Name)
	assert.Equal(t, 1, engine.pulls)
}

func TestDocker_LaunchNameConflict(t *testing.T) {
	engine := newFakeEngine()
	engine.imagePresent = true
	d := newTestDocker(t, engine)
	ctx := context.Background()

	_, err := d.Launch(ctx, testSpec("ticker-btc"))
	require.NoError(t, err)

	_, err = d.Launch(ctx, testSpec("ticker-btc"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameConflict), "expected ErrNameConflict, got %v", err)
}

func TestDocker_LaunchStartFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.imagePresent = true
	engine.failStart = true
	d := newTestDocker(t, engine)

	_, err := d.Launch(context.Background(), testSpec("ticker-btc"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNameConflict))
}

func TestDocker_InspectNotFound(t *testing.T) {
	d := newTestDocker(t, newFakeEngine())

	_, err := d.Inspect(context.Background(), "ticker-none")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	err = d.Start(context.Background(), "ticker-none")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestDocker_StopStartList(t *testing.T) {
	engine := newFakeEngine()
	engine.imagePresent = true
	d := newTestDocker(t, engine)
	ctx := context.Background()

	for _, name := range []string{"ticker-btc", "ticker-aapl"} {
		_, err := d.Launch(ctx, testSpec(name))
		require.NoError(t, err)
	}
	// Substring match on the engine side must not leak into results.
	engine.containers["not-ticker-x"] = &fakeContainer{ID: "id-x", Name: "not-ticker-x", Status: "running"}

	require.NoError(t, d.Stop(ctx, "ticker-btc"))

	list, err := d.List(ctx, "ticker-")
	require.NoError(t, err)
	require.Len(t, list, 2)

	status := map[string]string{}
	for _, h := range list {
		status[h.Name] = h.Status
	}
	assert.Equal(t, "exited", status["ticker-btc"])
	assert.Equal(t, "running", status["ticker-aapl"])

	require.NoError(t, d.Start(ctx, "ticker-btc"))
	got, err := d.Inspect(ctx, "ticker-btc")
	require.NoError(t, err)
	assert.True(t, got.Running())
}
