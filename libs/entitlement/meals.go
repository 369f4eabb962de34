// Package entitlement computes how many meals an employee may still order.
// All functions take the evaluation instant explicitly and read no clock.
package entitlement

import (
	"math"
	"time"
)

const week = 7 * 24 * time.Hour

// WeekStart is Monday 00:00:00 of the week containing now, in now's location.
// Sunday belongs to the week that started six days earlier.
func WeekStart(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7
	y, m, d := now.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, now.Location())
}

func endOfDay(t time.Time, addDays int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+addDays, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// overlaps treats both intervals as closed.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// WeeklyMealsRemaining is the allotment view shown to employers: the weekly
// cap bounded by the weekdays left in the Monday to Friday week, including
// today. It is zero on weekends and when the week misses the period.
func WeeklyMealsRemaining(periodStart, periodEnd time.Time, mealsPerWeek int, now time.Time) int {
	start := WeekStart(now)
	end := endOfDay(start, 4)
	if !overlaps(start, end, periodStart, periodEnd) {
		return 0
	}
	dow := int(now.Weekday())
	if dow < int(time.Monday) || dow > int(time.Friday) {
		return 0
	}
	remainingWeekdays := 5 - dow + 1
	return clamp(min(mealsPerWeek, remainingWeekdays))
}

// WeeklyMealsRemainingFromBalance is the employee view: the balance spread
// evenly over the weeks left until periodEnd, capped at the weekly allotment.
// The current week runs Monday to Sunday.
func WeeklyMealsRemainingFromBalance(periodStart, periodEnd time.Time, remainingMeals, mealsPerWeek int, now time.Time) int {
	start := WeekStart(now)
	end := endOfDay(start, 6)
	if !overlaps(start, end, periodStart, periodEnd) {
		return 0
	}
	weeks := RemainingWeeks(periodEnd, now)
	if weeks <= 0 {
		return 0
	}
	return clamp(min(mealsPerWeek, clamp(remainingMeals)/weeks))
}

// RemainingWeeks is ceil((periodEnd-now)/7d). It is zero or negative once
// the period has ended.
func RemainingWeeks(periodEnd, now time.Time) int {
	return int(math.Ceil(float64(periodEnd.Sub(now)) / float64(week)))
}

// MonthlyMealsRemaining is the balance itself; a month view has no further cap.
func MonthlyMealsRemaining(remainingMeals int) int {
	return remainingMeals
}

// PeriodAllotment is the balance granted when a period opens: the weekly
// allotment times the number of started weeks between start and end.
func PeriodAllotment(p Period, mealsPerWeek int) int {
	if mealsPerWeek <= 0 || p.End.Before(p.Start) {
		return 0
	}
	weeks := int(math.Ceil(float64(p.End.Sub(p.Start)) / float64(week)))
	if weeks < 1 {
		weeks = 1
	}
	return weeks * mealsPerWeek
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
