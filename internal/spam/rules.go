package spam

// Category groups trigger phrases.
type Category string

const (
	CategoryUrgency    Category = "urgency"
	CategoryMoney      Category = "money"
	CategorySales      Category = "sales"
	CategoryFormatting Category = "formatting"
	CategoryTechnical  Category = "technical"
	CategoryStructure  Category = "structure"
)

type phrase struct {
	text   string
	weight int
}

var phraseTable = map[Category][]phrase{
	CategoryUrgency: {
		{"act now", 8}, {"limited time", 6}, {"urgent", 5}, {"expires today", 7},
		{"last chance", 6}, {"don't miss out", 5}, {"hurry", 5}, {"immediately", 3},
		{"only a few left", 6}, {"final notice", 8},
	},
	CategoryMoney: {
		{"free money", 12}, {"cash bonus", 10}, {"earn $", 8}, {"100% free", 8},
		{"double your", 8}, {"risk-free", 6}, {"no credit check", 10}, {"lowest price", 5},
		{"make money", 8}, {"million dollars", 10}, {"best price", 4}, {"save big", 5},
	},
	CategorySales: {
		{"buy now", 8}, {"order now", 7}, {"click here", 6}, {"special promotion", 6},
		{"guaranteed", 5}, {"no obligation", 5}, {"winner", 8}, {"congratulations", 6},
		{"you have been selected", 10}, {"this is not spam", 12}, {"miracle", 8},
		{"unsubscribe at any time", 2}, {"increase sales", 4}, {"dear friend", 7},
	},
}

// technical markers are matched against the raw, lower-cased HTML.
var technicalTable = []struct {
	marker string
	weight int
	fix    string
}{
	{"<script", 25, "remove <script> tags; mailbox providers strip or block them"},
	{"javascript:", 20, "remove javascript: links"},
	{"<iframe", 20, "remove iframes"},
	{"<form", 15, "replace forms with a link to a hosted page"},
	{"display:none", 15, "remove hidden (display:none) content"},
	{"visibility:hidden", 15, "remove hidden (visibility:hidden) content"},
	{"font-size:0", 15, "remove zero-size text"},
	{"left:-9999px", 10, "remove off-screen positioned content"},
}

var categoryFix = map[Category]string{
	CategoryUrgency: "tone down urgency language",
	CategoryMoney:   "avoid money and pricing claims in cold outreach",
	CategorySales:   "replace sales phrasing with a plain, specific ask",
}
