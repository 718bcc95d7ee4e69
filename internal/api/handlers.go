package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/queue"
	redisclient "github.com/carebridge/clinic-scheduling/internal/redis"
	"github.com/carebridge/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// requireActor pulls the resolved principal or ends the request with 401.
func requireActor(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	actor, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_principal", "X-Actor-ID and X-Actor-Role headers are required")
	}
	return actor, ok
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func bookAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}
		day, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		start, err := calendar.ParseClock(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
			return
		}
		end, err := calendar.ParseClock(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", err.Error())
			return
		}

		result, err := svc.Book(r.Context(), scheduling.BookRequest{
			DoctorID:    doctorID,
			PatientID:   patientID,
			Day:         day,
			Start:       start,
			End:         end,
			IsEmergency: req.IsEmergency,
			Notes:       req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			Appointment:   newAppointmentResponse(result.Appointment),
			QueuePosition: result.QueuePosition,
			EstimatedWait: result.EstimatedWait,
		})
	}
}

func getAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req StatusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Status == "" {
			writeError(w, http.StatusBadRequest, "missing_status", "status is required")
			return
		}

		change := scheduling.StatusChange{
			To:           appointment.Status(req.Status),
			Notes:        req.Notes,
			CancelReason: req.CancelReason,
		}
		if req.DoctorID != "" {
			doctorID, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
				return
			}
			change.DoctorID = &doctorID
		}

		appt, err := svc.UpdateStatus(r.Context(), id, actor, change)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		day, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		start, err := calendar.ParseClock(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
			return
		}
		end, err := calendar.ParseClock(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, actor, scheduling.RescheduleRequest{
			Day:   day,
			Start: start,
			End:   end,
			Notes: req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func confirmRescheduleHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req DecisionBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Action != "confirm" && req.Action != "reject" {
			writeError(w, http.StatusBadRequest, "invalid_action", "action must be confirm or reject")
			return
		}

		appt, err := svc.ConfirmReschedule(r.Context(), id, actor, req.Action == "confirm", req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func respondRescheduleHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req DecisionBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Action != "approve" && req.Action != "reject" {
			writeError(w, http.StatusBadRequest, "invalid_action", "action must be approve or reject")
			return
		}

		appt, err := svc.RespondReschedule(r.Context(), id, actor, req.Action == "approve", req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func doctorSlotsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		day, err := calendar.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		slots, err := svc.DoctorSlots(r.Context(), doctorID, day)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: day, Slots: slots})
	}
}

func upsertCalendarHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		if actor.Role != appointment.RoleDoctor || actor.ID != doctorID {
			writeError(w, http.StatusForbidden, "not_authorized", "only the doctor may edit their calendar")
			return
		}
		day, err := calendar.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		var req CalendarUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		update, err := calendarUpdateFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hours", err.Error())
			return
		}

		cal, err := svc.UpsertCalendar(r.Context(), doctorID, day, update)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cal)
	}
}

func calendarUpdateFromRequest(req CalendarUpdateRequest) (scheduling.CalendarUpdate, error) {
	parseHours := func(h HoursBody) (calendar.HoursRange, error) {
		start, err := calendar.ParseClock(h.Start)
		if err != nil {
			return calendar.HoursRange{}, err
		}
		end, err := calendar.ParseClock(h.End)
		if err != nil {
			return calendar.HoursRange{}, err
		}
		return calendar.HoursRange{Start: start, End: end}, nil
	}

	regular, err := parseHours(req.RegularHours)
	if err != nil {
		return scheduling.CalendarUpdate{}, err
	}
	update := scheduling.CalendarUpdate{
		RegularHours: regular,
		SlotMinutes:  req.SlotMinutes,
		Unavailable:  req.Unavailable,
	}
	if req.EmergencyHours != nil {
		eh, err := parseHours(*req.EmergencyHours)
		if err != nil {
			return scheduling.CalendarUpdate{}, err
		}
		update.EmergencyHours = &eh
	}
	for _, b := range req.Breaks {
		br, err := parseHours(b)
		if err != nil {
			return scheduling.CalendarUpdate{}, err
		}
		update.Breaks = append(update.Breaks, br)
	}
	return update, nil
}

func getQueueHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "doctorId")
		if !ok {
			return
		}
		day, ok := queueDay(w, r)
		if !ok {
			return
		}

		q, err := svc.Queue(r.Context(), doctorID, day)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newQueueResponse(q))
	}
}

// queueDay reads the optional ?date= parameter, defaulting to today.
func queueDay(w http.ResponseWriter, r *http.Request) (calendar.Date, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return calendar.Today(), true
	}
	day, err := calendar.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return calendar.Date{}, false
	}
	return day, true
}

func queueDelayHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorId")
		if !ok {
			return
		}
		day, ok := queueDay(w, r)
		if !ok {
			return
		}

		var req QueueDelayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		q, err := svc.SetQueueDelay(r.Context(), doctorID, actor, day, req.DelayMinutes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newQueueResponse(q))
	}
}

func queueEntryHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorId")
		if !ok {
			return
		}
		apptID, ok := parseUUIDParam(w, r, "appointmentId")
		if !ok {
			return
		}
		day, ok := queueDay(w, r)
		if !ok {
			return
		}

		var req QueueEntryUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		q, err := svc.UpdateQueueEntry(r.Context(), doctorID, actor, day, apptID, queue.EntryStatus(req.Status))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newQueueResponse(q))
	}
}

// handleServiceError maps engine errors onto stable HTTP responses.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *scheduling.ValidationError
		conflictErr   *scheduling.ConflictError
		transitionErr *scheduling.TransitionError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_error", validationErr.Msg)
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:            "booking_conflict",
			Details:          conflictErr.Error(),
			Reason:           conflictErr.Reason,
			AlternativeSlots: conflictErr.Alternatives,
		})
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "invalid_transition",
			Details: transitionErr.Error(),
			Reason:  "INVALID_TRANSITION",
		})
	case errors.Is(err, scheduling.ErrNegotiationInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "negotiation_in_progress",
			Details: err.Error(),
			Reason:  "NEGOTIATION_IN_PROGRESS",
		})
	case errors.Is(err, scheduling.ErrNoNegotiation):
		writeError(w, http.StatusConflict, "no_pending_reschedule", err.Error())
	case errors.Is(err, scheduling.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, appointment.ErrAppointmentModified):
		writeError(w, http.StatusConflict, "appointment_modified", "appointment changed concurrently, please retry")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, calendar.ErrCalendarNotFound):
		writeError(w, http.StatusNotFound, "calendar_not_found", err.Error())
	case errors.Is(err, queue.ErrQueueNotFound), errors.Is(err, queue.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "queue_entry_not_found", err.Error())
	case errors.Is(err, queue.ErrAnotherInProgress):
		writeError(w, http.StatusConflict, "another_patient_in_progress", err.Error())
	case errors.Is(err, queue.ErrInvalidEntryStatus):
		writeError(w, http.StatusBadRequest, "invalid_entry_status", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "calendar_busy", "calendar is being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
