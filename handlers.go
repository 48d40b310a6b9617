package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/billbatista/acasinha-split/attachment"
	"github.com/billbatista/acasinha-split/eventlogger"
	"github.com/billbatista/acasinha-split/ledger"
	"github.com/billbatista/acasinha-split/middleware"
	"github.com/billbatista/acasinha-split/session"
	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type server struct {
	ctrl               *session.Controller
	audit              session.Auditor
	maxAttachmentBytes int
}

func newRouter(ctrl *session.Controller, worker *eventlogger.Worker, gatherer prometheus.Gatherer, maxAttachmentBytes int) http.Handler {
	s := &server{ctrl: ctrl, audit: worker, maxAttachmentBytes: maxAttachmentBytes}

	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(middleware.ActiveEvent(ctrl))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		evt := eventlogger.NewEvent(
			eventlogger.WithType("health_request"),
			eventlogger.WithData(map[string]string{
				"message":     "ok",
				"http_status": strconv.Itoa(http.StatusOK),
				"pending":     strconv.Itoa(ctrl.Pending()),
			}),
		)
		s.audit.Log(evt)
		w.Write([]byte("ok"))
	})

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Post("/events", s.createEvent)
	router.Get("/events/recent", s.recentEvents)
	router.Post("/events/{eventID}/open", s.openEvent)
	router.Post("/event/exit", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Exit()
		w.WriteHeader(http.StatusNoContent)
	})
	router.Get("/attachments/{ref}", s.getAttachment)

	// routes acting on the open event
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireEvent)

		r.Get("/event", s.getEvent)
		r.Delete("/event", s.deleteEvent)
		r.Get("/event/balances", s.balances)
		r.Get("/event/debts", s.debts)
		r.Get("/event/live", s.live)

		r.Post("/event/participants", s.addParticipant)
		r.Put("/event/participants/{participantID}", s.updateParticipant)
		r.Delete("/event/participants/{participantID}", s.deleteParticipant)

		r.Post("/event/expenses", s.addExpense)
		r.Put("/event/expenses/{expenseID}", s.updateExpense)
		r.Delete("/event/expenses/{expenseID}", s.deleteExpense)

		r.Post("/event/settlements", s.recordSettlement)
	})

	return router
}

func (s *server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name" validate:"required,max=120"`
		Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	ev, err := s.ctrl.CreateEvent(r.Context(), req.Name, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *server) recentEvents(w http.ResponseWriter, r *http.Request) {
	recent, err := s.ctrl.RecentEvents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *server) openEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := urlID(w, r, "eventID")
	if !ok {
		return
	}
	if err := s.ctrl.LoadEvent(r.Context(), eventID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Event())
}

func (s *server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, _ := middleware.GetEvent(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"event":       ev,
		"total_spend": ledger.Format(ev.TotalSpend(), ev.Currency),
		"pending":     s.ctrl.Pending(),
	})
}

func (s *server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	m, err := s.ctrl.DeleteEvent()
	s.respond(w, r, m, err)
}

type balanceView struct {
	ParticipantID uuid.UUID       `json:"participant_id"`
	Name          string          `json:"name"`
	Balance       decimal.Decimal `json:"balance"`
	Display       string          `json:"display"`
}

func (s *server) balances(w http.ResponseWriter, r *http.Request) {
	ev, _ := middleware.GetEvent(r.Context())
	balances := ledger.CalculateBalances(ev.Participants, ev.Expenses)

	views := make([]balanceView, 0, len(ev.Participants))
	for _, p := range ev.Participants {
		b := balances[p.ID].Round(2)
		views = append(views, balanceView{
			ParticipantID: p.ID,
			Name:          p.Name,
			Balance:       b,
			Display:       ledger.Format(b, ev.Currency),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type debtView struct {
	ledger.Debt
	FromName string `json:"from_name"`
	ToName   string `json:"to_name"`
	Display  string `json:"display"`
}

func (s *server) debts(w http.ResponseWriter, r *http.Request) {
	ev, _ := middleware.GetEvent(r.Context())
	debts := ledger.SimplifyDebts(ledger.CalculateBalances(ev.Participants, ev.Expenses))

	views := make([]debtView, 0, len(debts))
	for _, d := range debts {
		view := debtView{Debt: d, Display: ledger.Format(d.Amount, ev.Currency)}
		if p := ev.Participant(d.From); p != nil {
			view.FromName = p.Name
		}
		if p := ev.Participant(d.To); p != nil {
			view.ToName = p.Name
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type participantRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

func (s *server) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	m, err := s.ctrl.AddParticipant(req.Name)
	s.respond(w, r, m, err)
}

func (s *server) updateParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "participantID")
	if !ok {
		return
	}
	var req participantRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	m, err := s.ctrl.UpdateParticipant(id, req.Name)
	s.respond(w, r, m, err)
}

func (s *server) deleteParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "participantID")
	if !ok {
		return
	}
	m, err := s.ctrl.DeleteParticipant(id)
	s.respond(w, r, m, err)
}

func (s *server) addExpense(w http.ResponseWriter, r *http.Request) {
	in, ok := s.expenseInput(w, r)
	if !ok {
		return
	}
	m, err := s.ctrl.AddExpense(in)
	s.respond(w, r, m, err)
}

func (s *server) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "expenseID")
	if !ok {
		return
	}
	in, ok := s.expenseInput(w, r)
	if !ok {
		return
	}
	m, err := s.ctrl.UpdateExpense(id, in)
	s.respond(w, r, m, err)
}

func (s *server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "expenseID")
	if !ok {
		return
	}
	m, err := s.ctrl.DeleteExpense(id)
	s.respond(w, r, m, err)
}

func (s *server) recordSettlement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   uuid.UUID       `json:"from" validate:"required"`
		To     uuid.UUID       `json:"to" validate:"required"`
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	m, err := s.ctrl.RecordSettlement(req.From, req.To, req.Amount)
	s.respond(w, r, m, err)
}

func (s *server) getAttachment(w http.ResponseWriter, r *http.Request) {
	data, err := s.ctrl.Attachment(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("content-type", http.DetectContentType(data))
	w.Write(data)
}

type expenseRequest struct {
	Description   string          `json:"description" validate:"required,max=200"`
	Amount        decimal.Decimal `json:"amount"`
	PaidBy        uuid.UUID       `json:"paid_by" validate:"required"`
	Beneficiaries []uuid.UUID     `json:"beneficiaries"`
	SplitAll      bool            `json:"split_all"`
}

// expenseInput reads a JSON body, or a multipart form when a receipt is
// uploaded alongside the expense.
func (s *server) expenseInput(w http.ResponseWriter, r *http.Request) (session.ExpenseInput, bool) {
	if !strings.HasPrefix(r.Header.Get("content-type"), "multipart/form-data") {
		var req expenseRequest
		if !decodeRequest(w, r, &req) {
			return session.ExpenseInput{}, false
		}
		return session.ExpenseInput{
			Description:   req.Description,
			Amount:        req.Amount,
			PaidBy:        req.PaidBy,
			Beneficiaries: req.Beneficiaries,
			SplitAll:      req.SplitAll,
		}, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxAttachmentBytes)+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return session.ExpenseInput{}, false
	}

	in := session.ExpenseInput{
		Description: r.FormValue("description"),
		SplitAll:    r.FormValue("split_all") == "true",
	}

	var err error
	if in.Amount, err = decimal.NewFromString(r.FormValue("amount")); err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return session.ExpenseInput{}, false
	}
	if in.PaidBy, err = uuid.Parse(r.FormValue("paid_by")); err != nil {
		http.Error(w, "invalid paid_by", http.StatusBadRequest)
		return session.ExpenseInput{}, false
	}
	for _, raw := range r.MultipartForm.Value["beneficiaries"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid beneficiary", http.StatusBadRequest)
			return session.ExpenseInput{}, false
		}
		in.Beneficiaries = append(in.Beneficiaries, id)
	}

	file, _, err := r.FormFile("attachment")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		slog.Error("retrieving form file", "error", err)
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return session.ExpenseInput{}, false
	default:
		defer file.Close()
		if in.Attachment, err = io.ReadAll(file); err != nil {
			slog.Error("reading file", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return session.ExpenseInput{}, false
		}
		if s.maxAttachmentBytes > 0 && len(in.Attachment) > s.maxAttachmentBytes {
			writeError(w, attachment.ErrTooLarge)
			return session.ExpenseInput{}, false
		}
	}
	return in, true
}

type mutationView struct {
	Mutation uint64    `json:"mutation"`
	Op       ledger.Op `json:"op"`
	Subject  uuid.UUID `json:"subject"`
	State    string    `json:"state"`
}

// respond answers 202 once the change is applied locally. With ?wait=true it
// holds the response until the remote write settles.
func (s *server) respond(w http.ResponseWriter, r *http.Request, m *session.Mutation, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if r.URL.Query().Get("wait") == "true" {
		if err := m.Wait(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		status = http.StatusOK
	}

	writeJSON(w, status, mutationView{
		Mutation: m.ID,
		Op:       m.Op,
		Subject:  m.Subject,
		State:    m.State().String(),
	})
}

// decodeRequest reads a JSON body into v and checks its validate tags.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			http.Error(w, verrs.Error(), http.StatusBadRequest)
			return false
		}
		slog.Error("validating request", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}
	return true
}

func urlID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoActiveEvent),
		errors.Is(err, ledger.ErrPayerHasExpenses),
		errors.Is(err, ledger.ErrSoleBeneficiary),
		errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrEventNotFound),
		errors.Is(err, ledger.ErrParticipantMissing),
		errors.Is(err, ledger.ErrExpenseMissing),
		errors.Is(err, attachment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ledger.ErrEmptyName),
		errors.Is(err, ledger.ErrUnknownCurrency),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrEmptyDescription),
		errors.Is(err, ledger.ErrNoBeneficiaries),
		errors.Is(err, ledger.ErrUnknownParticipant),
		errors.Is(err, ledger.ErrSelfSettlement),
		errors.Is(err, ledger.ErrOverpayment),
		errors.Is(err, ledger.ErrSettlementPayee),
		errors.Is(err, ledger.ErrAmountPrecision),
		errors.Is(err, attachment.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrRemoteWrite),
		errors.Is(err, session.ErrSuperseded),
		errors.Is(err, session.ErrLoad):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrAttachmentsMissing):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
