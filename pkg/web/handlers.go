package web

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-avatar/pkg/audiostream"
	"github.com/teslashibe/go-avatar/pkg/camera"
	"github.com/teslashibe/go-avatar/pkg/hub"
	"github.com/teslashibe/go-avatar/pkg/session"
	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// TrackingStartRequest is the optional body of POST /api/tracking/start.
type TrackingStartRequest struct {
	Device *int `json:"device"`
}

// VoiceConnectRequest is the optional body of POST /api/voice/connect.
type VoiceConnectRequest struct {
	Instructions string `json:"instructions"`
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracking.ErrAlreadyRunning),
		errors.Is(err, audiostream.ErrAlreadyConnected),
		errors.Is(err, audiostream.ErrNotConnected):
		return fiber.StatusConflict
	case errors.Is(err, tracking.ErrDeviceAccess),
		errors.Is(err, audiostream.ErrDeviceAccess),
		session.IsRetryable(err):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, camera.ErrUnknownPreset):
		return fiber.StatusNotFound
	case errors.Is(err, tracking.ErrClosed):
		return fiber.StatusGone
	}
	return fiber.StatusInternalServerError
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleTrackingStart(c *fiber.Ctx) error {
	var req TrackingStartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
	}
	device := s.cfg.CameraDevice
	if req.Device != nil {
		device = *req.Device
	}

	if err := s.tracking.Start(s.life(), device); err != nil {
		s.logger.Warn("tracking start failed", "device", device, "error", err)
		return errorJSON(c, statusFor(err), err)
	}
	s.PublishStatus()
	return c.JSON(fiber.Map{"running": true, "device": device})
}

func (s *Server) handleTrackingStop(c *fiber.Ctx) error {
	if err := s.tracking.Stop(); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	s.PublishStatus()
	return c.JSON(fiber.Map{"running": false})
}

func (s *Server) handleCalibrate(c *fiber.Ctx) error {
	ok := s.tracking.Calibrate()
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"calibrated": false,
			"error":      "tracking is not running or has no frame yet",
		})
	}
	s.PublishStatus()
	return c.JSON(fiber.Map{"calibrated": true})
}

func (s *Server) handleVoiceConnect(c *fiber.Ctx) error {
	var req VoiceConnectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
	}

	if err := s.voice.Connect(s.life(), req.Instructions); err != nil {
		s.logger.Warn("voice connect failed", "error", err)
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(fiber.Map{"connected": true})
}

func (s *Server) handleVoiceDisconnect(c *fiber.Ctx) error {
	if err := s.voice.Disconnect(); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(fiber.Map{"connected": false})
}

func (s *Server) handleCameraPreset(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := s.camera.Apply(c.UserContext(), name); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(s.camera.Current())
}

func (s *Server) handleWebRTCOffer(c *fiber.Ctx) error {
	if s.offers == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, errors.New("webrtc audio is not enabled"))
	}
	var offer webrtc.SessionDescription
	if err := c.BodyParser(&offer); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return errorJSON(c, fiber.StatusBadRequest, errors.New("expected an SDP offer"))
	}

	answer, err := s.offers.HandleOffer(c.UserContext(), offer)
	if err != nil {
		s.logger.Warn("webrtc offer failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(answer)
}

// handleFramesWS streams frame messages, starting with the latest one.
func (s *Server) handleFramesWS(c *websocket.Conn) {
	var initial []hub.Message
	if last, ok := s.frameHub.Last(); ok {
		initial = append(initial, last)
	}
	hub.NewClient(s.frameHub, c, initial...).Run()
}

// handleStatusWS streams status messages, starting with the current one.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	var initial []hub.Message
	if msg, err := hub.EncodeJSON(s.Status()); err == nil {
		initial = append(initial, msg)
	}
	hub.NewClient(s.statusHub, c, initial...).Run()
}
