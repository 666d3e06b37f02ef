package http

import (
	"net/http"

	applog "smartspend/internal/log"
)

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Chat.History(r.Context())
	s.read(w, r, applog.OpRead, toChatDTOs(msgs), err)
}

// handleChatSend answers with the assistant's reply; the user's own message
// is already in the history.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if _, err := requireOwner(r); err != nil {
		s.fail(w, r, applog.OpChat, err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}

	reply, err := s.deps.Chat.Send(r.Context(), p.Get("text", "message"))
	if err != nil {
		s.fail(w, r, applog.OpChat, err)
		return
	}
	NewResponse().Status(http.StatusCreated).Data(toChatDTO(reply)).Write(w)
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpAdvise, err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	period, err := ParsePeriod(p.Get("period"), s.loc, s.now())
	if err != nil {
		s.fail(w, r, applog.OpAdvise, err)
		return
	}

	msg, err := s.deps.Advisor.RequestAdvice(r.Context(), owner, period)
	if err != nil {
		s.fail(w, r, applog.OpAdvise, err)
		return
	}
	NewResponse().Status(http.StatusCreated).Data(toChatDTO(msg)).Write(w)
}
