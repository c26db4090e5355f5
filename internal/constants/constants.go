package constants

const USER_AGENT = "web:redlib:v0.1.0 (by /u/Kirk1984)"
