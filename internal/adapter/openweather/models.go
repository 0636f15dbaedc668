package openweather

// currentResponse is the subset of /weather we read.
type currentResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// errorResponse is returned with non-2xx statuses. cod is a string or a number
// depending on the endpoint, so it is not decoded.
type errorResponse struct {
	Message string `json:"message"`
}
