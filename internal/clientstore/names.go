package clientstore

// Cookies owned by splitpage, with their lifetimes in days.
const (
	CookieAlternatives    = "sp_alternatives"     // experiment id → alternative index
	CookieParticipation   = "sp_participation"    // participation draw in [0, 100)
	CookieTesting         = "sp_cookie_testing"   // cookie-testing flag seen last
	CookiePageViews       = "sp_page_views"       // experiment id → last visit, unix ms
	CookieUniqueViews     = "sp_unique_views"     // experiment id → unique id
	CookieGoalConversions = "sp_goal_conversions" // "experiment:goal" → last conversion, unix ms
	CookieSegmentation    = "sp_segmentation"     // cached segments and geo data

	LongLivedDays   = 120
	PageViewTTLDays = 10
)

// Owned lists every cookie above, for inspection tools.
var Owned = []string{
	CookieAlternatives,
	CookieParticipation,
	CookieTesting,
	CookiePageViews,
	CookieUniqueViews,
	CookieGoalConversions,
	CookieSegmentation,
}
