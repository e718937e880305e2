package redaction

import "time"

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
