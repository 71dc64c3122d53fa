package audit

import "time"

// Event — одно решение шлюза о доступе. Сырые креденшелы сюда не попадают
// никогда: только идентичности и коды.
type Event struct {
	ID              string    `json:"id"`       // UUID события
	TraceID         string    `json:"trace_id"` // Сквозной ID запроса
	Path            string    `json:"path"`
	CallerPrincipal string    `json:"caller_principal"` // кто пришел
	ActingEmail     string    `json:"acting_email"`     // от чьего имени
	Decision        string    `json:"decision"`         // "allowed" или код отказа
	Status          int       `json:"status"`           // HTTP статус ответа
	Timestamp       time.Time `json:"timestamp"`
	DurationMs      int64     `json:"duration_ms"`
}
