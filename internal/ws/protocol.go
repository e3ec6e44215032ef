package ws

// Wire message envelopes pushed to scoreboard clients. One JSON object per
// websocket text message; numeric penalty/time fields are stringified
// because the LED wall firmware treats every field as text.

type wireMessage struct {
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

const (
	msgTop      = "top"
	msgOnCourse = "oncourse"
	msgComp     = "comp"
)

// Race status values carried in the top message.
const (
	raceStatusIdle     = 0 // no competitors on course
	raceStatusRunning  = 1 // at least one competitor on course
	raceStatusFinished = 2 // results present, course empty
)

type topData struct {
	RaceName     string   `json:"RaceName"`
	RaceStatus   int      `json:"RaceStatus"`
	HighlightBib string   `json:"HighlightBib"`
	List         []topRow `json:"list"`
}

type topRow struct {
	Rank   int    `json:"Rank"`
	Bib    string `json:"Bib"`
	Name   string `json:"Name"`
	Club   string `json:"Club"`
	Nat    string `json:"Nat,omitempty"`
	Total  string `json:"Total"`
	Pen    string `json:"Pen"`
	Behind string `json:"Behind"`
	Time   string `json:"Time,omitempty"`

	PrevTime   string `json:"PrevTime,omitempty"`
	PrevPen    string `json:"PrevPen,omitempty"`
	PrevTotal  string `json:"PrevTotal,omitempty"`
	PrevRank   string `json:"PrevRank,omitempty"`
	TotalTotal string `json:"TotalTotal,omitempty"`
	TotalRank  string `json:"TotalRank,omitempty"`
	BetterRun  string `json:"BetterRun,omitempty"`
}

type onCourseEntry struct {
	Bib      string `json:"Bib"`
	BibKey   string `json:"BibKey"`
	Name     string `json:"Name"`
	Club     string `json:"Club"`
	Gates    string `json:"Gates"`
	Pen      string `json:"Pen"`
	Time     string `json:"Time"`
	Total    string `json:"Total"`
	DTFinish string `json:"dtFinish"`
	Pos      int    `json:"_pos"`
}

type compData struct {
	Bib     string `json:"Bib"`
	Name    string `json:"Name"`
	Club    string `json:"Club"`
	Time    string `json:"Time"`
	Pen     string `json:"Pen"`
	Gates   string `json:"Gates"`
	Rank    int    `json:"Rank"`
	TTBDiff string `json:"TTBDiff"`
	TTBName string `json:"TTBName"`
}

// clientMessage is what scoreboard clients may send upstream: filter
// configuration for their own session.
type clientMessage struct {
	Msg  string `json:"msg"`
	Data struct {
		ShowOnCourse *bool    `json:"showOnCourse"`
		ShowResults  *bool    `json:"showResults"`
		RaceFilter   []string `json:"raceFilter"`
	} `json:"data"`
}
