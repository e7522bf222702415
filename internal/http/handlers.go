package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
	"github.com/dhyanmanav/GAT-CMS-2/internal/auth"
	"github.com/dhyanmanav/GAT-CMS-2/internal/certificates"
	"github.com/dhyanmanav/GAT-CMS-2/internal/identity"
	"github.com/dhyanmanav/GAT-CMS-2/internal/registrar"
)

type sendOTPRequest struct {
	Phone string `json:"phone" validate:"required,phone10"`
}

type sendOTPResponse struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	ExpiresAt      time.Time `json:"expiresAt"`
	DevelopmentOTP string    `json:"developmentOTP,omitempty"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" validate:"required"`
	OTP   string `json:"otp" validate:"required"`
}

type verifyOTPResponse struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	VerificationToken string    `json:"verificationToken"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type studentSignupRequest struct {
	FullName          string `json:"fullName" validate:"required,max=120"`
	USN               string `json:"usn" validate:"required,max=32"`
	FatherName        string `json:"fatherName" validate:"required,max=120"`
	Semester          string `json:"semester" validate:"required"`
	Year              string `json:"year" validate:"required"`
	Department        string `json:"department" validate:"required"`
	Email             string `json:"email" validate:"required,email"`
	Phone             string `json:"phone" validate:"required,phone10"`
	Password          string `json:"password" validate:"required,min=6"`
	ConfirmPassword   string `json:"confirmPassword" validate:"omitempty,eqfield=Password"`
	VerificationToken string `json:"verificationToken"`
}

type adminSignupRequest struct {
	FullName        string `json:"fullName" validate:"required,max=120"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"omitempty,phone10"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"omitempty,eqfield=Password"`
	SecretCode      string `json:"secretCode"`
}

type signupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=student admin"`
}

type loginResponse struct {
	Success     bool          `json:"success"`
	AccessToken string        `json:"accessToken"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	Role        auth.Role     `json:"role"`
	User        identity.User `json:"user"`
}

type submitRequest struct {
	StudentName string `json:"studentName" validate:"required,max=120"`
	USN         string `json:"usn" validate:"required,max=32"`
	FatherName  string `json:"fatherName" validate:"required,max=120"`
	Semester    string `json:"semester" validate:"required"`
	Year        string `json:"year" validate:"required"`
	Department  string `json:"department" validate:"required"`
	Purpose     string `json:"purpose" validate:"required,max=500"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		s.fail(w, r, err)
		return
	}

	issued, err := s.otp.RequestCode(r.Context(), req.Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := sendOTPResponse{
		Success:   true,
		Message:   "OTP sent successfully",
		ExpiresAt: issued.ExpiresAt,
	}
	if !issued.Delivered {
		resp.Message = "OTP generated but SMS delivery failed"
	}
	if s.cfg.OTPExposeCode {
		resp.DevelopmentOTP = issued.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields", "Phone and OTP required")
		return
	}

	verification, err := s.otp.VerifyCode(r.Context(), req.Phone, req.OTP)
	if err != nil {
		// Unknown and expired codes are client errors on this route.
		if apperr.Is(err, apperr.NotFound) {
			s.failWithStatus(w, r, http.StatusBadRequest, err)
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyOTPResponse{
		Success:           true,
		Message:           "OTP verified successfully",
		VerificationToken: verification.Token,
		ExpiresAt:         verification.ExpiresAt,
	})
}

func (s *Server) handleStudentSignup(w http.ResponseWriter, r *http.Request) {
	var req studentSignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		s.fail(w, r, err)
		return
	}

	userID, err := s.registrar.RegisterStudent(r.Context(), registrar.StudentSignup{
		FullName:          req.FullName,
		USN:               req.USN,
		FatherName:        req.FatherName,
		Semester:          req.Semester,
		Year:              req.Year,
		Department:        req.Department,
		Email:             req.Email,
		Phone:             req.Phone,
		Password:          req.Password,
		ConfirmPassword:   req.ConfirmPassword,
		VerificationToken: req.VerificationToken,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signupResponse{
		Success: true,
		Message: "Student account created successfully",
		UserID:  userID,
	})
}

func (s *Server) handleAdminSignup(w http.ResponseWriter, r *http.Request) {
	var req adminSignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		s.fail(w, r, err)
		return
	}

	userID, err := s.registrar.RegisterAdmin(r.Context(), registrar.AdminSignup{
		FullName:        req.FullName,
		Email:           req.Email,
		Phone:           req.Phone,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		SecretCode:      req.SecretCode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signupResponse{
		Success: true,
		Message: "Admin account created successfully",
		UserID:  userID,
	})
}

// handleLogin signs in and, when the caller names the role they logged in
// under, rejects accounts registered with the other role.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		if apperr.CodeOf(err) == "missing_fields" {
			writeError(w, http.StatusBadRequest, "missing_credentials", "Email and password are required")
			return
		}
		s.fail(w, r, err)
		return
	}

	session, err := s.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Role != "" {
		role, err := auth.ParseRole(req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_role", "Unknown role")
			return
		}
		if role != session.User.Role {
			writeError(w, http.StatusForbidden, "role_mismatch",
				fmt.Sprintf("This account is registered as %s. Please use the %s login.", session.User.Role, session.User.Role))
			return
		}
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		AccessToken: session.AccessToken,
		ExpiresAt:   session.ExpiresAt,
		Role:        session.User.Role,
		User:        session.User,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	profile, err := s.registrar.Profile(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    profile,
		"role":    user.Role,
	})
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		s.fail(w, r, err)
		return
	}

	created, err := s.workflow.Submit(r.Context(), user.Principal(), certificates.Fields{
		StudentName: req.StudentName,
		USN:         req.USN,
		FatherName:  req.FatherName,
		Semester:    req.Semester,
		Year:        req.Year,
		Department:  req.Department,
		Purpose:     req.Purpose,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Certificate request submitted successfully",
		"requestId": created.ID,
		"request":   created,
	})
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	requests, err := s.workflow.ListAll(r.Context(), user.Principal())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "requests": requests})
}

func (s *Server) handleListForStudent(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	requests, err := s.workflow.ListForStudent(r.Context(), user.Principal())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "requests": requests})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	request, err := s.workflow.Get(r.Context(), user.Principal(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "request": request})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if !user.Principal().IsAdmin() {
		writeError(w, http.StatusForbidden, "admin_only", "Unauthorized - Admin access required")
		return
	}
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := s.check(req); err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := certificates.ParseDecision(req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	updated, err := s.workflow.SetStatus(r.Context(), user.Principal(), chi.URLParam(r, "id"), status, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Request %s successfully", updated.Status),
		"request": updated,
	})
}
