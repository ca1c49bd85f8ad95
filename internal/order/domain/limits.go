package domain

import "gorm.io/datatypes"

// LimitValues converts a stored limits JSON map to integer values.
// JSON decoding reads numbers back as float64.
func LimitValues(m datatypes.JSONMap) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	limits := make(map[string]int64, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case float64:
			limits[key] = int64(v)
		case int64:
			limits[key] = v
		case int:
			limits[key] = int64(v)
		}
	}
	return limits
}

// LimitsJSON converts integer limits to the stored JSON map form.
func LimitsJSON(limits map[string]int64) datatypes.JSONMap {
	m := make(datatypes.JSONMap, len(limits))
	for key, value := range limits {
		m[key] = value
	}
	return m
}
