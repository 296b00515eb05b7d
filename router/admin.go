package router

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/wampcore/broker/wamp"
)

// AdminHandler returns a read-only HTTP surface for operators: a liveness
// check, a realm listing, and a per-realm subscription dump. It never
// mutates router state and is not part of the wire protocol - point a
// reverse proxy at it rather than exposing it directly if it needs to leave
// localhost.
func (r *router) AdminHandler() http.Handler {
	m := mux.NewRouter()
	m.HandleFunc("/healthz", r.handleHealthz).Methods(http.MethodGet)
	m.HandleFunc("/realms", r.handleRealms).Methods(http.MethodGet)
	m.HandleFunc("/realms/{uri}/subscriptions", r.handleRealmSubscriptions).Methods(http.MethodGet)
	return m
}

func (r *router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	sync := make(chan bool, 1)
	r.actionChan <- func() { sync <- !r.closed }
	if !<-sync {
		http.Error(w, "router closed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type realmSummary struct {
	URI          string `json:"uri"`
	SessionCount int    `json:"sessionCount"`
}

func (r *router) handleRealms(w http.ResponseWriter, _ *http.Request) {
	type result struct {
		rlms []*realm
		uris []string
	}
	sync := make(chan result, 1)
	r.actionChan <- func() {
		res := result{}
		for uri, rlm := range r.realms {
			res.uris = append(res.uris, string(uri))
			res.rlms = append(res.rlms, rlm)
		}
		sync <- res
	}
	res := <-sync

	summaries := make([]realmSummary, len(res.rlms))
	for i, rlm := range res.rlms {
		summaries[i] = realmSummary{URI: res.uris[i], SessionCount: rlm.sessionCount()}
	}
	writeJSON(w, summaries)
}

type subscriptionSummary struct {
	ID              uint64 `json:"id"`
	Topic           string `json:"topic"`
	SubscriberCount int    `json:"subscriberCount"`
}

func (r *router) handleRealmSubscriptions(w http.ResponseWriter, req *http.Request) {
	uri := mux.Vars(req)["uri"]

	var target *realm
	sync := make(chan struct{})
	r.actionChan <- func() {
		target = r.realms[wamp.URI(uri)]
		close(sync)
	}
	<-sync

	if target == nil {
		http.Error(w, "no such realm", http.StatusNotFound)
		return
	}

	subs := target.broker.snapshot()
	summaries := make([]subscriptionSummary, len(subs))
	for i, sub := range subs {
		summaries[i] = subscriptionSummary{
			ID:              uint64(sub.id),
			Topic:           string(sub.topic),
			SubscriberCount: len(sub.subscribers),
		}
	}
	writeJSON(w, summaries)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
