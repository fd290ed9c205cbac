package domain

// UploadedFile is one entry of the uploaded_documents form field, read fully
// into memory. ContentType is already normalised (lowercase, no parameters).
type UploadedFile struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

func (f UploadedFile) DisplayName() string {
	if f.Filename == "" {
		return "unknown_file"
	}
	return f.Filename
}
