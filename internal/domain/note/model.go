package note

import "time"

type Note struct {
	ID            int64     `json:"id"`
	PatientID     int64     `json:"patient_id"`
	Content       string    `json:"content"`
	NoteTimestamp time.Time `json:"note_timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

type CreateRequest struct {
	Content       string     `json:"content"`
	NoteTimestamp *time.Time `json:"note_timestamp"`
}

type ListResponse struct {
	Items []*Note `json:"items"`
	Total int     `json:"total"`
}
