package ndstore

// Version is the semantic version of the ndstore library.
const Version = "0.1.0"
