package service

// SetPick replaces the random index source of a BatchRunner.
func SetPick(b *BatchRunner, pick func(n int) int) {
	b.pick = pick
}
