// Package session превращает время жизни треков в события стоянки.
package session

import (
	"sort"

	"github.com/google/uuid"

	"parkvision-go/pkg/models"
)

// DefaultTimeout время отсутствия трека (в единицах времени кадров), после
// которого сессия завершается
const DefaultTimeout = 5.0

// Manager хранит живые сессии по ID трека. Не безопасен для одновременного
// использования; каждому потоку нужен свой Manager.
type Manager struct {
	timeout float64
	live    map[int64]*models.Session
}

// NewManager создает менеджер; timeout <= 0 заменяется значением по умолчанию
func NewManager(timeout float64) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		timeout: timeout,
		live:    make(map[int64]*models.Session),
	}
}

// Timeout возвращает таймаут исчезновения
func (m *Manager) Timeout() float64 {
	return m.timeout
}

// Update учитывает треки кадра с меткой времени timestamp и возвращает
// сессии, чьи треки отсутствуют дольше таймаута. Вернувшийся до таймаута
// трек продолжает свою сессию.
func (m *Manager) Update(tracks []models.Track, timestamp float64) []models.CompletedSession {
	active := make(map[int64]struct{}, len(tracks))
	for _, tr := range tracks {
		active[tr.ID] = struct{}{}
		s, ok := m.live[tr.ID]
		if !ok {
			s = &models.Session{TrackID: tr.ID, StartTime: timestamp}
			m.live[tr.ID] = s
		}
		s.LastSeen = timestamp
		s.Box = tr.Box
		s.ClassID = tr.ClassID
		s.ClassName = tr.ClassName
	}

	var completed []models.CompletedSession
	for id, s := range m.live {
		if _, ok := active[id]; ok {
			continue
		}
		if timestamp-s.LastSeen > m.timeout {
			completed = append(completed, complete(s))
			delete(m.live, id)
		}
	}
	sortCompleted(completed)
	return completed
}

// Drain завершает все живые сессии, например в конце потока
func (m *Manager) Drain() []models.CompletedSession {
	completed := make([]models.CompletedSession, 0, len(m.live))
	for id, s := range m.live {
		completed = append(completed, complete(s))
		delete(m.live, id)
	}
	sortCompleted(completed)
	return completed
}

// Live возвращает копию живых сессий, отсортированную по ID трека
func (m *Manager) Live() []models.Session {
	out := make([]models.Session, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Len возвращает количество живых сессий
func (m *Manager) Len() int {
	return len(m.live)
}

func complete(s *models.Session) models.CompletedSession {
	duration := s.LastSeen - s.StartTime
	if duration < 0 {
		duration = 0
	}
	return models.CompletedSession{
		EventID:   uuid.NewString(),
		TrackID:   s.TrackID,
		StartTime: s.StartTime,
		EndTime:   s.LastSeen,
		Duration:  duration,
		Box:       s.Box,
		ClassID:   s.ClassID,
		ClassName: s.ClassName,
	}
}

func sortCompleted(c []models.CompletedSession) {
	sort.Slice(c, func(i, j int) bool { return c[i].TrackID < c[j].TrackID })
}
