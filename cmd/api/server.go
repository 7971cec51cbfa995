package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/dashboard"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/ingest"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/schedule"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/mid"
)

const maxBody = 10 << 20

type server struct {
	svc   *dashboard.Service
	sched *schedule.Scheduler
	log   *slog.Logger
	now   func() time.Time
}

type routerOpts struct {
	CORSOrigins  []string
	Metrics      *metrics.Registry
	ServeMetrics bool
}

func newRouter(s *server, opts routerOpts) http.Handler {
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mid.Recover(s.log))
	r.Use(mid.Logger(s.log))
	r.Use(mid.Metrics(opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	if opts.ServeMetrics {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth)

		r.Get("/dashboard", s.dashboard)
		r.Get("/summary", s.summary)
		r.Get("/snapshot", s.snapshot)
		r.Get("/kpi", s.kpi)
		r.Get("/bank-mentions", s.bankMentions)
		r.Get("/geolocation", s.geolocation)
		r.Get("/scraping-status", s.scrapingStatus)

		r.Route("/action-items", func(r chi.Router) {
			r.Get("/", s.actionItems)
			r.Get("/{id}", s.actionItem)
			r.Post("/{id}/resolve", s.resolveActionItem)
		})

		r.Get("/ai-overview", s.aiOverview)
		r.Get("/ai-overview/{section}", s.aiOverviewSection)
		r.Get("/dashboard-ai-overview", s.dashboardAIOverview)

		r.Route("/sentiment-analysis", func(r chi.Router) {
			r.Get("/", s.sentimentAnalysis)
			r.Get("/sentiments", s.sentiments)
			r.Get("/emotions", s.emotions)
			r.Get("/categories", s.categories)
			r.Get("/top-posts", s.topPosts)
			r.Get("/top-comments", s.topComments)
		})
		r.Get("/categories/{category}/posts", s.categoryPosts)
		r.Get("/search", s.search)

		r.Route("/full-data", func(r chi.Router) {
			r.Get("/{page}", s.fullData)
			r.Get("/posts/{page}", s.fullPosts)
			r.Get("/comments/{page}", s.fullComments)
		})

		r.Get("/posts/{id}", s.post)
		r.Post("/posts", s.ingestPost)
		r.Get("/comments/{id}", s.comment)
		r.Post("/comments", s.ingestComment)
		r.Post("/ingest", s.ingestBatch)
		r.Post("/scrape-runs", s.recordRun)
		r.Get("/scrape-runs/{id}", s.run)
		r.Patch("/scrape-runs/{id}", s.updateRun)

		r.Post("/reanalyze", s.reanalyze)

		r.Get("/graph/mentions", s.graphMentions)
		r.Get("/graph/co-mentions", s.coMentions)

		r.Get("/jobs", s.jobs)
		r.Post("/jobs/{name}/run", s.runJob)
	})

	return mid.OTel("bank-api")(r)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// query reads bank_id (or bank) and the window. days selects the last n
// days; otherwise from and to take RFC 3339 times or dates.
func (s *server) query(r *http.Request) (dashboard.Query, error) {
	v := r.URL.Query()
	q := dashboard.Query{BankID: v.Get("bank_id")}
	if q.BankID == "" {
		q.BankID = v.Get("bank")
	}
	if d := v.Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			return q, domain.NewValidationError("days", d, domain.ErrInvalidWindow)
		}
		q.Window = domain.LastDays(s.now().UTC(), n)
		return q, nil
	}
	var err error
	if q.Window.From, err = parseTime("from", v.Get("from")); err != nil {
		return q, err
	}
	if q.Window.To, err = parseTime("to", v.Get("to")); err != nil {
		return q, err
	}
	return q, nil
}

func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, domain.NewValidationError(field, raw, domain.ErrInvalidWindow)
}

func intParam(raw, field string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(field, raw, domain.ErrOutOfRange)
	}
	return n, nil
}

func pageParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "page")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError("page", raw, domain.ErrInvalidPage)
	}
	return n, nil
}

// decode reads a JSON body. An empty body leaves v untouched when optional.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewValidationError("body", "", fmt.Errorf("%w: %v", domain.ErrMissingField, err))
	}
	return nil
}

// withQuery runs fn with the parsed query and writes its result.
func withQuery[T any](s *server, fn func(*http.Request, dashboard.Query) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.query(r)
		if err != nil {
			respondErr(w, s.log, err)
			return
		}
		v, err := fn(r, q)
		if err != nil {
			respondErr(w, s.log, err)
			return
		}
		respond(w, http.StatusOK, v)
	}
}

func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.Dashboard, error) {
		return s.svc.Dashboard(r.Context(), q)
	})(w, r)
}

func (s *server) summary(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.Summary, error) {
		return s.svc.Summary(r.Context(), q)
	})(w, r)
}

func (s *server) snapshot(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (domain.AggregateView, error) {
		return s.svc.Snapshot(r.Context(), q)
	})(w, r)
}

func (s *server) kpi(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (domain.KPIs, error) {
		return s.svc.KPI(r.Context(), q)
	})(w, r)
}

func (s *server) bankMentions(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	m, err := s.svc.BankMentions(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func (s *server) geolocation(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	g, err := s.svc.Geolocation(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, g, len(g.Buckets))
}

func (s *server) scrapingStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.ScrapingStatus(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, st)
}

func (s *server) actionItems(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	v := r.URL.Query()
	limit, err := intParam(v.Get("limit"), "limit", 0)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	items, err := s.svc.ActionItems(r.Context(), q, dashboard.ActionFilter{
		Category:  v.Get("category"),
		Sentiment: v.Get("sentiment"),
		Status:    v.Get("status"),
		Limit:     limit,
	})
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, items, len(items))
}

func (s *server) actionItem(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.ActionItemView, error) {
		return s.svc.ActionItem(r.Context(), q, chi.URLParam(r, "id"))
	})(w, r)
}

func (s *server) resolveActionItem(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.ActionItemView, error) {
		return s.svc.ResolveActionItem(r.Context(), q, chi.URLParam(r, "id"))
	})(w, r)
}

func (s *server) aiOverview(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	o, err := s.svc.AIOverview(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, o)
}

func (s *server) aiOverviewSection(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (map[string]string, error) {
		return s.svc.AIOverviewSection(r.Context(), q, chi.URLParam(r, "section"))
	})(w, r)
}

func (s *server) dashboardAIOverview(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	all, err := s.svc.DashboardAIOverview(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, all, len(all))
}

func (s *server) sentimentAnalysis(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.SentimentAnalysis, error) {
		return s.svc.SentimentAnalysis(r.Context(), q)
	})(w, r)
}

func (s *server) sentiments(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	b, err := s.svc.Sentiments(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *server) emotions(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	b, err := s.svc.Emotions(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *server) categories(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	b, err := s.svc.Categories(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *server) topPosts(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", dashboard.DefaultTopPosts)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	posts, err := s.svc.TopPosts(r.Context(), q, limit)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, posts, len(posts))
}

func (s *server) topComments(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", dashboard.DefaultTopPosts)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	comments, err := s.svc.TopComments(r.Context(), q, limit)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, comments, len(comments))
}

func (s *server) categoryPosts(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	page, err := intParam(r.URL.Query().Get("page"), "page", 1)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	v, err := s.svc.CategoryPosts(r.Context(), q, chi.URLParam(r, "category"), page)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, v)
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", dashboard.DefaultSearch)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	res, err := s.svc.Search(r.Context(), q, r.URL.Query().Get("q"), limit)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, res, res.Count)
}

func (s *server) fullData(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.FullDataPage, error) {
		page, err := pageParam(r)
		if err != nil {
			return dashboard.FullDataPage{}, err
		}
		return s.svc.FullData(r.Context(), q, page)
	})(w, r)
}

func (s *server) fullPosts(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.PostsPage, error) {
		page, err := pageParam(r)
		if err != nil {
			return dashboard.PostsPage{}, err
		}
		return s.svc.FullPosts(r.Context(), q, page)
	})(w, r)
}

func (s *server) fullComments(w http.ResponseWriter, r *http.Request) {
	withQuery(s, func(r *http.Request, q dashboard.Query) (dashboard.CommentsPage, error) {
		page, err := pageParam(r)
		if err != nil {
			return dashboard.CommentsPage{}, err
		}
		return s.svc.FullComments(r.Context(), q, page)
	})(w, r)
}

func (s *server) post(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.PostByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (s *server) comment(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.CommentByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, c)
}

func (s *server) run(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.RunByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, run)
}

// created answers 201 for new items and 200 for duplicates.
func created(w http.ResponseWriter, out ingest.Outcome) {
	code := http.StatusOK
	if out.Created {
		code = http.StatusCreated
	}
	respond(w, code, out)
}

func (s *server) ingestPost(w http.ResponseWriter, r *http.Request) {
	var p domain.Post
	if err := decode(r, &p, false); err != nil {
		respondErr(w, s.log, err)
		return
	}
	out, err := s.svc.IngestPost(r.Context(), p)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	created(w, out)
}

func (s *server) ingestComment(w http.ResponseWriter, r *http.Request) {
	var c domain.Comment
	if err := decode(r, &c, false); err != nil {
		respondErr(w, s.log, err)
		return
	}
	out, err := s.svc.IngestComment(r.Context(), c)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	created(w, out)
}

func (s *server) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var b ingest.Batch
	if err := decode(r, &b, false); err != nil {
		respondErr(w, s.log, err)
		return
	}
	rep, err := s.svc.IngestBatch(r.Context(), b)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, rep)
}

func (s *server) recordRun(w http.ResponseWriter, r *http.Request) {
	var run domain.ScrapeRun
	if err := decode(r, &run, false); err != nil {
		respondErr(w, s.log, err)
		return
	}
	run, err := s.svc.RecordRun(r.Context(), run)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusCreated, run)
}

type runUpdate struct {
	Status domain.RunStatus `json:"status"`
}

func (s *server) updateRun(w http.ResponseWriter, r *http.Request) {
	var u runUpdate
	if err := decode(r, &u, false); err != nil {
		respondErr(w, s.log, err)
		return
	}
	if u.Status == "" {
		respondErr(w, s.log, domain.NewValidationError("status", "", domain.ErrMissingField))
		return
	}
	run, err := s.svc.UpdateRun(r.Context(), chi.URLParam(r, "id"), u.Status)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, run)
}

func (s *server) reanalyze(w http.ResponseWriter, r *http.Request) {
	var req dashboard.ReanalyzeRequest
	if err := decode(r, &req, true); err != nil {
		respondErr(w, s.log, err)
		return
	}
	res, err := s.svc.Reanalyze(r.Context(), req)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (s *server) graphMentions(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.GraphMentions(r.Context())
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, counts, len(counts))
}

func (s *server) coMentions(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	counts, err := s.svc.CoMentions(r.Context(), q)
	if err != nil {
		respondErr(w, s.log, err)
		return
	}
	respondList(w, counts, len(counts))
}

func (s *server) jobs(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		respondList(w, []schedule.JobInfo{}, 0)
		return
	}
	jobs := s.sched.Jobs()
	respondList(w, jobs, len(jobs))
}

func (s *server) runJob(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if s.sched == nil {
		respondErr(w, s.log, fmt.Errorf("job %q: %w", name, schedule.ErrUnknownJob))
		return
	}
	if err := s.sched.RunNow(r.Context(), name); err != nil {
		respondErr(w, s.log, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"job": name, "status": "done"})
}
