package model

import "time"

// holiday is a named set of fixed calendar days recurring every year.
type holiday struct {
	name string
	days []monthDay
}

type monthDay struct {
	month time.Month
	day   int
}

// russianHolidays is the federal public holiday calendar of the Russian Federation.
var russianHolidays = []holiday{
	{name: "new_year", days: []monthDay{
		{time.January, 1}, {time.January, 2}, {time.January, 3}, {time.January, 4},
		{time.January, 5}, {time.January, 6}, {time.January, 8},
	}},
	{name: "orthodox_christmas", days: []monthDay{{time.January, 7}}},
	{name: "defender_of_the_fatherland_day", days: []monthDay{{time.February, 23}}},
	{name: "international_womens_day", days: []monthDay{{time.March, 8}}},
	{name: "spring_and_labour_day", days: []monthDay{{time.May, 1}}},
	{name: "victory_day", days: []monthDay{{time.May, 9}}},
	{name: "russia_day", days: []monthDay{{time.June, 12}}},
	{name: "unity_day", days: []monthDay{{time.November, 4}}},
}

func holidayNames() []string {
	names := make([]string, len(russianHolidays))
	for i, h := range russianHolidays {
		names[i] = h.name
	}
	return names
}

// holidayIndex returns the index of the holiday date falls on, or -1.
func holidayIndex(date time.Time) int {
	_, m, d := date.Date()
	for i, h := range russianHolidays {
		for _, md := range h.days {
			if md.month == m && md.day == d {
				return i
			}
		}
	}
	return -1
}
