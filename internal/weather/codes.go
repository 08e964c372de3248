package weather

// Condition is the normalized meaning of a WMO weather code: an icon
// class, a short description, and a human suggestion. Icon and advice are
// independent vocabularies derived from the same code grouping.
type Condition struct {
	Icon        string
	Description string
	Advice      string
}

// Classify maps an Open-Meteo WMO weather code to its normalized
// condition. The code groupings are fixed; unknown codes fall back to a
// generic overcast look.
func Classify(code int, day bool) Condition {
	return Condition{
		Icon:        iconForCode(code, day),
		Description: descriptionForCode(code),
		Advice:      adviceForCode(code),
	}
}

func iconForCode(code int, day bool) string {
	switch code {
	case 0:
		if day {
			return "sun.max.fill"
		}
		return "moon.stars.fill"
	case 1, 2:
		if day {
			return "cloud.sun.fill"
		}
		return "cloud.moon.fill"
	case 3:
		return "cloud.fill"
	case 45, 48:
		return "cloud.fog.fill"
	case 51, 53, 55, 56, 57:
		return "cloud.drizzle.fill"
	case 61, 63, 65, 66, 67:
		return "cloud.rain.fill"
	case 71, 73, 75, 77:
		return "cloud.snow.fill"
	case 80, 81, 82:
		return "cloud.heavyrain.fill"
	case 85, 86:
		return "cloud.snow.fill"
	case 95, 96, 99:
		return "cloud.bolt.rain.fill"
	default:
		return "cloud.fill"
	}
}

func descriptionForCode(code int) string {
	switch code {
	case 0:
		return "Clear Sky"
	case 1:
		return "Mostly Clear"
	case 2:
		return "Partly Cloudy"
	case 3:
		return "Overcast"
	case 45, 48:
		return "Fog"
	case 51, 53, 55:
		return "Drizzle"
	case 56, 57:
		return "Freezing Drizzle"
	case 61, 63, 65:
		return "Rain"
	case 66, 67:
		return "Freezing Rain"
	case 71, 73, 75:
		return "Snow"
	case 77:
		return "Snow Grains"
	case 80, 81, 82:
		return "Rain Showers"
	case 85, 86:
		return "Snow Showers"
	case 95, 96, 99:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}

func adviceForCode(code int) string {
	switch {
	case code >= 0 && code <= 2:
		return "A beautiful day! Enjoy the sun."
	case code == 3:
		return "The sky is overcast today."
	case code == 45 || code == 48:
		return "Watch out for reduced visibility."
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return "Rainy day, remember your umbrella!"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return "It's snowing! Bundle up if you go out."
	case code >= 95 && code <= 99:
		return "Thunderstorms around, better stay indoors."
	default:
		return "Welcome back to your dashboard."
	}
}
