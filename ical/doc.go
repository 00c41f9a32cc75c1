package ical

// ical is responsible for generating the iCalendar (RFC 5545) text of a feed.
// It's not concerned with where events come from, whether they are still
// current, or how they are ordered: it renders exactly the events it is given,
// in the order it is given them.
