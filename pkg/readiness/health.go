// Package readiness tracks which node components have finished starting up
// and serves the result as a k8s readiness probe. Components latch ready on
// first signal and never go back; this is a startup gate, not a monitor.
package readiness

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

type Component string

type checker struct {
	mu    sync.Mutex
	state map[Component]bool
}

// Global singleton, matching the Prometheus client's default registry pattern.
var global = &checker{state: map[Component]bool{}}

// RegisterComponent adds a component to the set that must be ready before the
// probe succeeds. Registering the same component twice is a programming error.
func RegisterComponent(component Component) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if _, ok := global.state[component]; ok {
		panic(fmt.Sprintf("component %s already registered", component))
	}
	global.state[component] = false
}

// SetReady marks a component as started. Safe to call more than once.
func SetReady(component Component) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.state[component] = true
}

// Handler serves the probe: 200 OK once every registered component has
// signalled ready, 412 Precondition Failed before that. The body lists the
// per-component states as plain text for operator eyes only.
func Handler(w http.ResponseWriter, r *http.Request) {
	global.mu.Lock()
	defer global.mu.Unlock()

	names := make([]Component, 0, len(global.state))
	for k := range global.state {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	ready := true
	for _, k := range names {
		if !global.state[k] {
			ready = false
		}
	}

	if !ready {
		w.WriteHeader(http.StatusPreconditionFailed)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprint(w, "[not suitable for monitoring - do not parse]\n\n")
	for _, k := range names {
		fmt.Fprintf(w, "%s\t%v\n", k, global.state[k])
	}
}
