package api

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fieldserve/internal/models"
	"fieldserve/internal/payment"
	"fieldserve/internal/service"
)

func (s *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	case http.MethodGet:
		s.listOpenJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID       int64   `json:"customer_id"`
		ServiceID        int64   `json:"service_id"`
		ServiceName      string  `json:"service_name"`
		Price            int64   `json:"price"`
		ScheduledAt      string  `json:"scheduled_at"`
		EstimatedMinutes int64   `json:"estimated_minutes"`
		Latitude         float64 `json:"latitude"`
		Longitude        float64 `json:"longitude"`
		Address          string  `json:"address"`
		CouponCode       string  `json:"coupon_code"`
		Surge            bool    `json:"surge"`
		Emergency        bool    `json:"emergency"`
		FromBanner       bool    `json:"from_banner"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	scheduledAt, err := time.Parse(time.RFC3339, body.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scheduled_at; expected RFC3339")
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), service.CreateJobInput{
		CustomerID:       body.CustomerID,
		ServiceID:        body.ServiceID,
		ServiceName:      body.ServiceName,
		Price:            body.Price,
		ScheduledAt:      scheduledAt,
		EstimatedMinutes: body.EstimatedMinutes,
		Latitude:         body.Latitude,
		Longitude:        body.Longitude,
		Address:          body.Address,
		CouponCode:       body.CouponCode,
		Surge:            body.Surge,
		Emergency:        body.Emergency,
		FromBanner:       body.FromBanner,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *HTTPServer) listOpenJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobs, err := s.jobs.ListOpenJobs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *HTTPServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if len(parts) == 2 && parts[1] == "bids" {
		bids, err := s.bids.BidsByJob(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleBids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		JobID         int64  `json:"job_id"`
		PartnerID     int64  `json:"partner_id"`
		Price         int64  `json:"price"`
		Message       string `json:"message"`
		AvailableTime string `json:"available_time"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	bid, err := s.bids.PlaceBid(r.Context(), service.PlaceBidInput{
		JobID:         body.JobID,
		PartnerID:     body.PartnerID,
		Price:         body.Price,
		Message:       body.Message,
		AvailableTime: body.AvailableTime,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (s *HTTPServer) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		JobID            int64   `json:"job_id"`
		BidID            int64   `json:"bid_id"`
		PartnerLatitude  float64 `json:"partner_latitude"`
		PartnerLongitude float64 `json:"partner_longitude"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	booking, err := s.jobs.AcceptBid(r.Context(), body.JobID, body.BidID, body.PartnerLatitude, body.PartnerLongitude)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleDeclineBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		BidID  int64  `json:"bid_id"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.bids.DeclineBid(r.Context(), body.BidID, body.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.BidDeclined})
}

func (s *HTTPServer) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		BidID     int64  `json:"bid_id"`
		PartnerID int64  `json:"partner_id"`
		Reason    string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.bids.CancelBid(r.Context(), body.BidID, body.PartnerID, body.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.BidCancelled})
}

func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if len(parts) == 2 && parts[1] == "extra-work" {
		works, err := s.bookings.ExtraWorkByBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"extra_work": works})
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleBookingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		BookingID int64  `json:"booking_id"`
		Status    string `json:"status"`
		Role      string `json:"role"`
		ActorID   int64  `json:"actor_id"`
		OTP       string `json:"otp"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	booking, err := s.bookings.AdvanceStatus(r.Context(), body.BookingID, body.Status,
		service.Actor{Role: body.Role, ID: body.ActorID}, body.OTP)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleExtraWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		BookingID int64  `json:"booking_id"`
		Role      string `json:"role"`
		ActorID   int64  `json:"actor_id"`
		Title     string `json:"title"`
		Amount    int64  `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	work, pay, err := s.bookings.AddExtraWork(r.Context(), body.BookingID,
		service.Actor{Role: body.Role, ID: body.ActorID}, body.Title, body.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{"extra_work": work}
	if pay != nil {
		resp["payment"] = pay
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *HTTPServer) handleCancelExtraWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		ExtraWorkID int64  `json:"extra_work_id"`
		Role        string `json:"role"`
		ActorID     int64  `json:"actor_id"`
		Reason      string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	err := s.bookings.CancelExtraWork(r.Context(), body.ExtraWorkID,
		service.Actor{Role: body.Role, ID: body.ActorID}, body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.ExtraWorkCancelled})
}

func (s *HTTPServer) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userType := strings.TrimSpace(r.URL.Query().Get("user_type"))
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if userType == "" || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_type and user_id are required")
		return
	}

	balance, err := s.ledger.Balance(r.Context(), userType, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *HTTPServer) handleWalletTopup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		UserType string `json:"user_type"`
		UserID   int64  `json:"user_id"`
		Amount   int64  `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	pay, err := s.ledger.InitiateTopup(r.Context(), body.UserType, body.UserID, body.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pay)
}

// handleExportTransactions streams the ledger for a date range as an xlsx
// workbook. Back-office only; the "exports" permission guards it.
func (s *HTTPServer) handleExportTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
		return
	}
	// Inclusive end date.
	to = to.Add(24*time.Hour - time.Nanosecond)

	filePath, err := s.exporter.ExportTransactions(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	serveExport(w, r, filePath)
}

// handleExportStatement returns the wallet movements of one booking as xlsx.
func (s *HTTPServer) handleExportStatement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	bookingID, _ := strconv.ParseInt(r.URL.Query().Get("booking_id"), 10, 64)
	if bookingID <= 0 {
		writeError(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	filePath, err := s.exporter.ExportBookingStatement(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	serveExport(w, r, filePath)
}

func serveExport(w http.ResponseWriter, r *http.Request, filePath string) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filepath.Base(filePath)))
	http.ServeFile(w, r, filePath)
}

// handleWebhook ingests gateway callbacks. The HMAC signature is the only
// authentication on this endpoint; replays are harmless because statuses only
// move forward.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		OrderID   string `json:"order_id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		Signature string `json:"signature"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.OrderID == "" || body.Status == "" {
		writeError(w, http.StatusBadRequest, "order_id and status are required")
		return
	}

	if !s.gateway.VerifySignature(body.OrderID, body.Amount, body.Signature) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	status := payment.MapStatus(body.Status)
	if err := s.bookings.HandleGatewayResult(r.Context(), body.OrderID, status, body.Reference); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
