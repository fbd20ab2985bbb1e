package history

// Default number of entries kept
const DefaultMaxEntries = 30
