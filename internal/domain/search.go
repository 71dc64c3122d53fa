package domain

// SearchHit — один кандидат из векторного индекса. Индекс может быть
// устаревшим, поэтому hit — это только кандидат: право доступа к каналу
// сверяется заново перед выдачей.
type SearchHit struct {
	Channel  string  `json:"channel"`
	TS       string  `json:"ts"`
	Distance float64 `json:"distance"`
}

// ChannelAccess — кэшируемое решение "можно/нельзя" по каналу.
// Advisory: в любой момент может быть перевычислено из директории.
type ChannelAccess struct {
	Permitted bool
	Name      string
}

// Message — одно сообщение в выдаче инструмента поиска.
type Message struct {
	Text        string `json:"text"`
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TS          string `json:"ts"`
	UserID      string `json:"user_id,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	URL         string `json:"url"`
	ThreadTS    string `json:"thread_ts,omitempty"`
}

// SearchResult — ответ инструмента. Пустая выдача — это валидный результат
// с пояснением, а не ошибка.
type SearchResult struct {
	Messages []Message `json:"messages"`
	Note     string    `json:"note,omitempty"`
}
