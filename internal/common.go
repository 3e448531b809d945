package internal

// Version is the corral release version reported by the hub.
const Version = "0.3.0"

// DocsURL is shown in the console welcome banner.
const DocsURL = "https://github.com/corral-net/corral"
