package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrCreatorAccessOnly ErrCode = "CREATOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotPublished       ErrCode = "EXAM_NOT_PUBLISHED"
	ErrWindowClosed           ErrCode = "WINDOW_CLOSED"
	ErrSessionNotFound        ErrCode = "SESSION_NOT_FOUND"
	ErrSessionExpired         ErrCode = "SESSION_EXPIRED"
	ErrAlreadySubmitted       ErrCode = "ALREADY_SUBMITTED"
	ErrSessionNotSubmitted    ErrCode = "SESSION_NOT_SUBMITTED"
	ErrConcurrentModification ErrCode = "CONCURRENT_MODIFICATION"
	ErrDefinitionUnavailable  ErrCode = "DEFINITION_UNAVAILABLE"
	ErrQuestionNotInExam      ErrCode = "QUESTION_NOT_IN_EXAM"
	ErrInvalidAnswer          ErrCode = "INVALID_ANSWER"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Kata sandi ujian salah."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrCreatorAccessOnly:
		return "Sumber daya ini terbatas untuk pembuat ujian."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotPublished:
		return "Ujian ini belum dipublikasikan."
	case ErrWindowClosed:
		return "Ujian ini berada di luar jadwal pelaksanaan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrSessionExpired:
		return "Waktu ujian telah habis."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrSessionNotSubmitted:
		return "Ujian ini belum dikumpulkan."
	case ErrConcurrentModification:
		return "Sesi sedang diperbarui. Silakan coba lagi."
	case ErrDefinitionUnavailable:
		return "Data ujian sementara tidak tersedia. Silakan coba lagi."
	case ErrQuestionNotInExam:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
