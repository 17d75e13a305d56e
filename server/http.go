package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/IMQS/fulltext/fulltext"
	"github.com/IMQS/gzipresponse"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultHttpPort = "2008"

type jsonSearchRoot struct {
	StaleIndex bool
	Items      []*jsonSearchItem
	Stats      jsonSearchStats
}

type jsonSearchStats struct {
	TimeTotal float64
}

type jsonSearchItem struct {
	Type    string
	ID      int64
	IndexID int64
	Attrs   map[string]interface{}
}

type jsonReindexResult struct {
	Count int
}

type jsonPingResult struct {
	Timestamp int64
}

// Router returns the HTTP API. RunHttp serves it.
func (e *Engine) Router() http.Handler {
	makeRoute := func(f func(*Engine, http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			f(e, w, r, ps)
		}
	}

	router := httprouter.New()
	router.GET("/search/:type/:query", makeRoute(httpSearch))
	router.POST("/reindex/:type", makeRoute(httpReindex))
	router.GET("/ping", makeRoute(httpPing))
	router.Handler("GET", "/metrics", promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{}))
	return router
}

func (e *Engine) RunHttp() error {
	config := e.GetConfig()
	port := defaultHttpPort
	if config.HTTP.Port != "" {
		port = config.HTTP.Port
	}
	addr := fmt.Sprintf("%v:%v", config.HTTP.Bind, port)

	e.ErrorLog.Infof("Full-text search is listening on %v", addr)

	err := http.ListenAndServe(addr, e.Router())
	e.ErrorLog.Infof("ListenAndServe: %v", err)
	return err
}

func httpSendError(w http.ResponseWriter, err error) {
	if errors.Is(err, fulltext.ErrTypeNotRegistered) {
		w.WriteHeader(http.StatusNotFound)
	} else {
		w.WriteHeader(http.StatusBadRequest)
	}
	fmt.Fprintf(w, "%v", err)
}

func sendJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	raw, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	gzipresponse.Write(w, r, raw)
}

// Only paging and includes are accepted from the URL. Conditions and ordering are raw SQL,
// so they are only available to code that links against the fulltext package.
func searchOptionsFromRequest(r *http.Request) (fulltext.Options, error) {
	q := r.URL.Query()
	raw := map[string]interface{}{}
	for _, key := range []string{"limit", "offset", "include"} {
		if v := q.Get(key); v != "" {
			raw[key] = v
		}
	}
	return fulltext.ParseOptions(raw)
}

func httpSearch(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entityType := ps.ByName("type")
	query := ps.ByName("query")
	transform := r.URL.Query().Get("raw") != "1"

	opts, err := searchOptionsFromRequest(r)
	if err != nil {
		httpSendError(w, err)
		return
	}

	result, err := e.Search(r.Context(), entityType, query, opts, transform)
	if err != nil {
		e.ErrorLog.Warnf(`Search failed: %v. Type = %v, Query = "%v"`, err, entityType, query)
		httpSendError(w, err)
		return
	}
	e.AccessLog.Infof("Search(%v, %v): %v results in %.2v ms", entityType, query, len(result.Records), result.TimeTotal.Seconds()*1000.0)

	res := jsonSearchRoot{
		StaleIndex: result.StaleIndex,
		Items:      []*jsonSearchItem{},
		Stats: jsonSearchStats{
			TimeTotal: result.TimeTotal.Seconds(),
		},
	}
	for _, rec := range result.Records {
		item := &jsonSearchItem{
			Type:  rec.Type,
			ID:    rec.ID,
			Attrs: rec.Attrs,
		}
		if rec.Index != nil {
			item.IndexID = rec.Index.ID
		}
		res.Items = append(res.Items, item)
	}
	sendJSON(w, r, &res)
}

func httpReindex(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entityType := ps.ByName("type")
	// Runs to completion even if the caller disconnects
	n, err := e.Reindex(context.Background(), []string{entityType})
	if err != nil {
		e.ErrorLog.Errorf("Reindex of %v failed: %v", entityType, err)
		httpSendError(w, err)
		return
	}
	sendJSON(w, r, &jsonReindexResult{Count: n})
}

func httpPing(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "max-age=0, no-cache")
	res := jsonPingResult{
		Timestamp: time.Now().Unix(),
	}
	response, _ := json.Marshal(&res)
	w.Write(response)
}
