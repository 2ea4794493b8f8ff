package conduit

import "strings"

// ComputeNextRun evaluates a "HH:MM <recurrence>" schedule string against
// nowUnix (seconds, UTC) and returns the next Unix timestamp at which it
// should fire. tzOffset is hours east of UTC; the HH:MM is interpreted in
// that local time. recurrence is one of:
//
//	once, daily                 - next occurrence of HH:MM
//	custom(mon,wed,fri)         - next occurrence of HH:MM on any listed day
//	weekly(monday)              - next occurrence of HH:MM on that weekday
//	monthly(15)                 - next occurrence of HH:MM on that day-of-month
//	                              (months without that day are skipped)
//
// ok is false when schedule doesn't parse, in which case callers should
// fall back to a fixed retry interval rather than treat the action as due
// forever.
func ComputeNextRun(schedule string, nowUnix int64, tzOffset int) (int64, bool) {
	parts := strings.SplitN(schedule, " ", 2)
	if len(parts) != 2 {
		return 0, false
	}

	timeParts := strings.Split(parts[0], ":")
	if len(timeParts) != 2 {
		return 0, false
	}
	hour := parseClockInt(timeParts[0])
	minute := parseClockInt(timeParts[1])
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}

	offsetSecs := int64(tzOffset) * 3600
	localNow := nowUnix + offsetSecs
	localDays := localNow / 86400
	localTimeOfDay := localNow % 86400
	targetTimeOfDay := int64(hour)*3600 + int64(minute)*60

	recurrence := strings.TrimSpace(parts[1])

	switch {
	case recurrence == "once" || recurrence == "daily":
		targetDay := localDays
		if localTimeOfDay >= targetTimeOfDay {
			targetDay++
		}
		localTS := targetDay*86400 + targetTimeOfDay
		return localTS - offsetSecs, true

	case strings.HasPrefix(recurrence, "custom("):
		daysStr := strings.TrimSuffix(strings.TrimPrefix(recurrence, "custom("), ")")
		currentDOW := ((localDays % 7) + 3) % 7 // Monday=0

		bestAhead := int64(-1)
		for _, dayName := range strings.Split(daysStr, ",") {
			targetDOW, ok := weekdayNumber(strings.TrimSpace(dayName))
			if !ok {
				return 0, false
			}
			ahead := targetDOW - currentDOW
			if ahead < 0 {
				ahead += 7
			}
			if ahead == 0 && localTimeOfDay >= targetTimeOfDay {
				ahead = 7
			}
			if bestAhead < 0 || ahead < bestAhead {
				bestAhead = ahead
			}
		}
		if bestAhead < 0 {
			return 0, false
		}
		targetDay := localDays + bestAhead
		localTS := targetDay*86400 + targetTimeOfDay
		return localTS - offsetSecs, true

	case strings.HasPrefix(recurrence, "weekly("):
		dayName := strings.TrimSuffix(strings.TrimPrefix(recurrence, "weekly("), ")")
		targetDOW, ok := weekdayNumber(dayName)
		if !ok {
			return 0, false
		}
		currentDOW := ((localDays % 7) + 3) % 7
		daysAhead := targetDOW - currentDOW
		if daysAhead < 0 {
			daysAhead += 7
		}
		if daysAhead == 0 && localTimeOfDay >= targetTimeOfDay {
			daysAhead = 7
		}
		targetDay := localDays + daysAhead
		localTS := targetDay*86400 + targetTimeOfDay
		return localTS - offsetSecs, true

	case strings.HasPrefix(recurrence, "monthly("):
		domStr := strings.TrimSuffix(strings.TrimPrefix(recurrence, "monthly("), ")")
		targetDOM := parseClockInt(domStr)
		if targetDOM < 1 || targetDOM > 31 {
			return 0, false
		}
		y, m, d := unixDaysToCivil(localDays)
		targetY, targetM := y, m
		if d > targetDOM || (d == targetDOM && localTimeOfDay >= targetTimeOfDay) {
			if m == 12 {
				targetY, targetM = y+1, 1
			} else {
				targetM = m + 1
			}
		}
		for {
			targetDays := civilToUnixDays(targetY, targetM, targetDOM)
			if _, _, gotD := unixDaysToCivil(targetDays); gotD == targetDOM {
				localTS := targetDays*86400 + targetTimeOfDay
				return localTS - offsetSecs, true
			}
			// targetM is too short for targetDOM; try the following month.
			if targetM == 12 {
				targetY, targetM = targetY+1, 1
			} else {
				targetM++
			}
		}
	}

	return 0, false
}

func weekdayNumber(name string) (int64, bool) {
	switch strings.ToLower(name) {
	case "monday", "mon":
		return 0, true
	case "tuesday", "tue":
		return 1, true
	case "wednesday", "wed":
		return 2, true
	case "thursday", "thu":
		return 3, true
	case "friday", "fri":
		return 4, true
	case "saturday", "sat":
		return 5, true
	case "sunday", "sun":
		return 6, true
	}
	return 0, false
}

func parseClockInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	if s == "" {
		return -1
	}
	return n
}

// unixDaysToCivil converts a day count since the Unix epoch to a
// proleptic Gregorian (year, month, day) triple. Algorithm from
// http://howardhinnant.github.io/date_algorithms.html.
func unixDaysToCivil(days int64) (year, month, day int) {
	z := days + 719468
	era := z / 146097
	if z < 0 {
		era = (z - 146096) / 146097
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return int(y), int(m), int(d)
}

func civilToUnixDays(year, month, day int) int64 {
	y, m, d := int64(year), int64(month), int64(day)
	if m <= 2 {
		y--
	}
	era := y / 400
	if y < 0 {
		era = (y - 399) / 400
	}
	yoe := y - era*400
	var doy int64
	if m > 2 {
		doy = (153*(m-3)+2)/5 + d - 1
	} else {
		doy = (153*(m+9)+2)/5 + d - 1
	}
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
