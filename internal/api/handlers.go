package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/srg/puttlab/internal/storage"
)

// decode reads a JSON object body into dst. It writes the error response
// itself and reports false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed JSON body."})
		return false
	}
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "halo")
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decode(w, r, &req) {
		return
	}

	errs := check(&req)
	u := &storage.User{}
	u.FirstName, _ = req.FirstName.(string)
	u.LastName, _ = req.LastName.(string)
	u.Email, _ = req.Email.(string)
	password, _ := req.Password.(string)

	if !errs.has("email") {
		switch _, err := s.store.UserByEmail(r.Context(), u.Email); {
		case err == nil:
			errs.add("email", "The email has already been taken.")
		case !errors.Is(err, storage.ErrNotFound):
			s.serverError(w, r, err)
			return
		}
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	u.Password = hash

	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeJSON(w, http.StatusUnprocessableEntity, fieldErrors{"email": {"The email has already been taken."}})
			return
		}
		s.serverError(w, r, err)
		return
	}

	expires := s.store.Now().Add(s.cfg.UserTokenTTL)
	token, err := s.store.CreateToken(r.Context(), storage.OwnerUser, u.ID, userTokenName, &expires)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": u.ID,
		"email":   u.Email,
	}).Info("User registered")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "User registered successfully",
		"token":   token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	errs := check(&req)
	email, _ := req.Email.(string)
	password, _ := req.Password.(string)

	var user storage.User
	if !errs.has("email") {
		var err error
		user, err = s.store.UserByEmail(r.Context(), email)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			errs.add("email", "The selected email is invalid.")
		case err != nil:
			s.serverError(w, r, err)
			return
		}
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	if !checkPasswordHash(password, user.Password) {
		s.logger.WithField("email", email).Warn("Login failed")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
		return
	}

	expires := s.store.Now().Add(s.cfg.UserTokenTTL)
	token, err := s.store.CreateToken(r.Context(), storage.OwnerUser, user.ID, userTokenName, &expires)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	errs := check(&req)
	name, _ := req.Name.(string)
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	dev, err := s.store.CreateDevice(r.Context(), name)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	token, err := s.store.CreateToken(r.Context(), storage.OwnerDevice, dev.ID, deviceTokenName, nil)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device_id": dev.ID,
		"name":      dev.Name,
	}).Info("Device registered")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) saveStroke(w http.ResponseWriter, r *http.Request, deviceID *int64) {
	var req strokeRequest
	if !decode(w, r, &req) {
		return
	}

	if errs := check(&req); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	st, err := s.store.SaveStroke(r.Context(), req.Data, deviceID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleSaveStroke(w http.ResponseWriter, r *http.Request) {
	s.saveStroke(w, r, nil)
}

func (s *Server) handleDeviceCycle(w http.ResponseWriter, r *http.Request) {
	tok, _ := tokenFrom(r.Context())
	id := tok.OwnerID
	s.saveStroke(w, r, &id)
}

func (s *Server) handleLEDState(w http.ResponseWriter, r *http.Request) {
	on, err := s.store.LEDState(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"state": on})
}

// handleLEDSwitch sets the LED to the given state, or toggles it when the
// body has none.
func (s *Server) handleLEDSwitch(w http.ResponseWriter, r *http.Request) {
	var req ledRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	if errs := check(&req); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}
	var want *bool
	if on, ok := req.State.(bool); ok {
		want = &on
	}

	if want == nil {
		on, err := s.store.LEDState(r.Context())
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		toggled := !on
		want = &toggled
	}
	if err := s.store.SetLEDState(r.Context(), *want); err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"state": *want})
}
