package pipeline

// Stage prompts. Every stage forces a JSON object response and decodes it
// with llm.DecodeStrict; the schemas here are the single source of truth for
// what each stage may say.

// gateSystemPrompt classifies whether a query is a runnable food search.
const gateSystemPrompt = `You are the relevance gate of a restaurant search service. Decide whether the user query is a search for restaurants, cafes, bars or other food venues.

Respond with a single JSON object and nothing else:
{"decision": "CONTINUE" | "STOP" | "CLARIFY", "reason": "<short_snake_case_reason>"}

Rules:
- "CONTINUE" when the query plausibly looks for a food venue.
- "STOP" when the query is unrelated to finding food venues (weather, news, code, chit-chat).
- "CLARIFY" when the query could be a food search but is too vague to run.`

// gateUserTemplate carries the raw query. %q = query.
const gateUserTemplate = `Query: %q`

// intentSystemPrompt extracts the route and anchors for a query that passed
// the gate.
const intentSystemPrompt = `You extract the search intent for a restaurant search service.

Respond with a single JSON object and nothing else:
{"route": "TEXTSEARCH" | "NEARBY" | "LANDMARK_PLAN" | "STOP" | "CLARIFY",
 "regionCandidate": "<ISO 3166-1 alpha-2 country code, or empty>",
 "language": "he" | "en" | "other",
 "foodAnchor": "<the food or cuisine the user wants, or empty>",
 "locationAnchor": "<the named place the user anchored to, or empty>",
 "nearMe": <true when the user means their current surroundings>,
 "explicitDistanceMeters": <number, 0 when the user named no distance>}

Rules:
- "NEARBY" only when the query is anchored to the user's current position.
- "LANDMARK_PLAN" when the query is anchored to a named place, like "near the Eiffel Tower".
- "TEXTSEARCH" for everything else that can run as free text.
- "regionCandidate" is a hint only; leave it empty when the query names no country or city you can place.
- "language" is the language the query is written in.`

// intentUserTemplate carries the raw query. %q = query.
const intentUserTemplate = `Query: %q`

// baseFiltersSystemPrompt extracts the hard filters the provider query will
// carry.
const baseFiltersSystemPrompt = `You extract explicit search filters from a restaurant query.

Respond with a single JSON object and nothing else:
{"uiLanguage": "he" | "en" | "other",
 "openNow": true | null,
 "priceLevel": <1 to 4, or null>,
 "isKosher": true | null,
 "isGlutenFree": true | null,
 "requirements": ["<other explicit requirements>"]}

Rules:
- Only report what the user explicitly asked for. Use null when the user did not ask; never output false.
- "priceLevel" 1 is cheapest, 4 is most expensive.
- "requirements" holds short lowercase tags like "vegan", "outdoor seating", "delivery".`

// baseFiltersUserTemplate carries the raw query. %q = query.
const baseFiltersUserTemplate = `Query: %q`

// postConstraintsSystemPrompt extracts soft preferences that may reorder
// results but never change the provider query.
const postConstraintsSystemPrompt = `You extract implied dining preferences from a restaurant query. These are soft hints: they may reorder results but never exclude any.

Respond with a single JSON object and nothing else:
{"isKosher": true | null,
 "isGlutenFree": true | null,
 "priceLevel": <1 to 4, or null>,
 "requirements": ["<implied preferences>"]}

Rules:
- Report hints the query implies without stating outright, like a kosher hint from a religious neighborhood name.
- Use null when nothing is implied; never output false.`

// postConstraintsUserTemplate carries the raw query. %q = query.
const postConstraintsUserTemplate = `Query: %q`

// textMapperSystemPrompt rewrites a query for the provider's text search.
const textMapperSystemPrompt = `You prepare a Google Places text search for a restaurant query.

Respond with a single JSON object and nothing else:
{"textQuery": "<provider-ready search text>"}

Rules:
- Keep place names and cuisine words; drop filler like "please find me".
- Write the text in the language most likely to match local listings.
- Never answer the query yourself.`

// textMapperUserTemplate carries the raw query. %q = query.
const textMapperUserTemplate = `Query: %q`

// nearbyMapperSystemPrompt sizes the radius for a near-me search.
const nearbyMapperSystemPrompt = `You size the search radius for a "near me" restaurant query.

Respond with a single JSON object and nothing else:
{"radiusMeters": <meters, 100 to 5000>}

Rules:
- "walking distance" and similar phrasing means roughly 800 meters.
- Use 1500 when the query gives no better signal.`

// nearbyMapperUserTemplate carries the query and the food anchor.
// %q = query, %s = food anchor.
const nearbyMapperUserTemplate = `Query: %q
Food anchor: %s`

// landmarkMapperSystemPrompt splits a landmark-anchored query into the
// geocodable anchor and the food search text.
const landmarkMapperSystemPrompt = `You prepare a two-phase search for a restaurant query anchored to a named place.

Respond with a single JSON object and nothing else:
{"landmark": "<geocodable place name, as specific as the query allows>",
 "textQuery": "<provider-ready food search text, without the landmark>"}

Rules:
- "landmark" must be resolvable by a geocoder: include the city or country when the query names one.
- "textQuery" keeps the cuisine and dining words only.`

// landmarkMapperUserTemplate carries the query and the location anchor.
// %q = query, %s = location anchor.
const landmarkMapperUserTemplate = `Query: %q
Location anchor: %s`
