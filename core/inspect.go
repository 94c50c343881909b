package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/encodeous/dvsim/perf"
	"github.com/encodeous/dvsim/state"
	"github.com/go-chi/chi/v5"
	"github.com/olekukonko/tablewriter"
)

// RouteView is the inspection form of a RouteEntry
type RouteView struct {
	Destination state.NodeAddr `json:"destination"`
	Distance    uint32         `json:"distance"`
	HopCount    uint32         `json:"hops"`
	NextHop     state.NodeAddr `json:"next_hop"`
}

type StatusView struct {
	Id        string           `json:"id"`
	Role      state.Role       `json:"role"`
	LinkDelay uint32           `json:"link_delay"`
	Self      []state.NodeAddr `json:"self"`
	Routes    int              `json:"routes"`
}

func toViews(routes []state.RouteEntry) []RouteView {
	views := make([]RouteView, 0, len(routes))
	for _, r := range routes {
		views = append(views, RouteView(r))
	}
	return views
}

func fromViews(views []RouteView) []state.RouteEntry {
	routes := make([]state.RouteEntry, 0, len(views))
	for _, v := range views {
		routes = append(routes, state.RouteEntry(v))
	}
	return routes
}

// RenderTable writes routes as an aligned text table
func RenderTable(w io.Writer, routes []state.RouteEntry) {
	rows := make([][]string, 0, len(routes))
	for _, r := range routes {
		rows = append(rows, []string{
			string(r.Destination),
			strconv.FormatUint(uint64(r.Distance), 10),
			strconv.FormatUint(uint64(r.HopCount), 10),
			string(r.NextHop),
		})
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"DESTINATION", "DISTANCE", "HOPS", "NEXT HOP"})
	table.AppendBulk(rows)
	table.Render()
}

// Inspector serves the route table, router trace and metrics of a node
type Inspector struct {
	server *http.Server
	done   chan struct{}
}

func (i *Inspector) Init(s *state.State) error {
	if !s.InspectBind.IsValid() {
		return nil
	}
	ln, err := net.Listen("tcp", s.InspectBind.String())
	if err != nil {
		return err
	}
	i.server = &http.Server{
		Handler:           newInspectRouter(s.Env, Get[*Trace](s)),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.Context
		},
	}
	i.done = make(chan struct{})
	go func() {
		defer close(i.done)
		if err := i.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("inspect server stopped", "err", err)
		}
	}()
	s.Log.Info("inspect server listening", "bind", ln.Addr().String())
	return nil
}

func (i *Inspector) Cleanup(s *state.State) error {
	if i.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := i.server.Shutdown(ctx)
	<-i.done
	return err
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func newInspectRouter(e *state.Env, trace *Trace) http.Handler {
	r := chi.NewRouter()
	r.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
		res, err := e.DispatchWait(func(s *state.State) (any, error) {
			return s.Table.Snapshot(), nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJson(w, toViews(res.([]state.RouteEntry)))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		res, err := e.DispatchWait(func(s *state.State) (any, error) {
			return StatusView{
				Id:        s.Id,
				Role:      s.Role,
				LinkDelay: s.LinkDelay,
				Self:      s.Self,
				Routes:    s.Table.Len(),
			}, nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJson(w, res)
	})
	r.Get("/trace", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		_ = trace.Watch(r.Context(), func(ev TraceEvent) {
			_, _ = fmt.Fprintln(w, ev.String())
			flusher.Flush()
		})
	})
	r.Handle("/debug/metrics", perf.Handler())
	r.Handle("/debug/vars", expvar.Handler())
	return r
}

var inspectClient = &http.Client{Timeout: 5 * time.Second}

// FetchRoutes reads the route table of the node whose inspect server listens on addr
func FetchRoutes(addr string) ([]state.RouteEntry, error) {
	res, err := inspectClient.Get(fmt.Sprintf("http://%s/routes", addr))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inspect %s: %s", addr, res.Status)
	}
	var views []RouteView
	if err := json.NewDecoder(res.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", addr, err)
	}
	return fromViews(views), nil
}

// StreamTrace copies the router trace of a node to w, line by line, until ctx is done
func StreamTrace(ctx context.Context, addr string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/trace", addr), nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("trace %s: %s", addr, res.Status)
	}
	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		if _, err := fmt.Fprintln(w, sc.Text()); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}
