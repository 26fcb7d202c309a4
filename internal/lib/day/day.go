// Package day содержит функции для работы с календарными датами:
// сравнение дат без учёта времени и расчёт ближайшей полуночи.
package day

import "time"

// Of возвращает полночь календарного дня t в его часовом поясе.
func Of(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Equal сообщает, совпадают ли календарные даты a и b.
// Каждая дата берётся в собственном часовом поясе, поэтому дата,
// прочитанная из колонки DATE (полночь UTC), сравнивается корректно.
func Equal(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// NextMidnight возвращает начало следующего календарного дня после t.
func NextMidnight(t time.Time) time.Time {
	return Of(t).AddDate(0, 0, 1)
}

// Format возвращает дату в формате 2006-01-02.
func Format(t time.Time) string {
	return t.Format(time.DateOnly)
}
