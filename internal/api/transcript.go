package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iwabuchi404/koenote-engine/internal/chunk"
	"github.com/iwabuchi404/koenote-engine/internal/transcript"
)

type TranscriptHandler struct {
	sess Controller
}

func NewTranscriptHandler(sess Controller) *TranscriptHandler {
	return &TranscriptHandler{sess: sess}
}

type transcriptResponse struct {
	Segments []chunk.Segment `json:"segments"`
	Count    int             `json:"count"`
}

// GetTranscript returns the consolidated segments as JSON.
func (h *TranscriptHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	segs := h.sess.Transcript()
	WriteJSON(w, http.StatusOK, transcriptResponse{Segments: segs, Count: len(segs)})
}

// GetTranscriptText returns the rendered transcript. ?format=plain|detailed
// selects the rendering (default plain); ?download=true asks the browser to
// save it as a file instead of displaying it.
func (h *TranscriptHandler) GetTranscriptText(w http.ResponseWriter, r *http.Request) {
	format := transcript.FormatPlain
	if v, ok := QueryString(r, "format"); ok {
		f, err := transcript.ParseFormat(v)
		if err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid transcript format", err.Error())
			return
		}
		format = f
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if v, ok := QueryBool(r, "download"); ok && v {
		w.Header().Set("Content-Disposition", `attachment; filename="transcript.txt"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(transcript.Render(h.sess.Transcript(), format))
}

// SaveTranscript forces an immediate write of the output file.
func (h *TranscriptHandler) SaveTranscript(w http.ResponseWriter, r *http.Request) {
	h.sess.Save()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Routes registers transcript routes on the given router.
func (h *TranscriptHandler) Routes(r chi.Router) {
	r.Get("/transcript", h.GetTranscript)
	r.Get("/transcript/text", h.GetTranscriptText)
	r.Post("/transcript/save", h.SaveTranscript)
}
