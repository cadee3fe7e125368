package ledger

// tournamentManagerABI is the subset of the TournamentManager contract this
// service reads and writes.
const tournamentManagerABI = `[
  {"type":"function","name":"getTournamentDetails","stateMutability":"view",
   "inputs":[{"name":"tournamentId","type":"uint256"}],
   "outputs":[
     {"name":"name","type":"string"},
     {"name":"entryFee","type":"uint256"},
     {"name":"tokenAddress","type":"address"},
     {"name":"activePlayers","type":"uint256"},
     {"name":"maxPlayers","type":"uint256"},
     {"name":"startTime","type":"uint256"},
     {"name":"endTime","type":"uint256"},
     {"name":"joinDeadline","type":"uint256"},
     {"name":"scoreSubmissionDeadline","type":"uint256"},
     {"name":"amountInTournament","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"prizesDistributed","type":"bool"}]},
  {"type":"function","name":"getPlayerScore","stateMutability":"view",
   "inputs":[{"name":"tournamentId","type":"uint256"},{"name":"playerAddress","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"hasPlayerJoined","stateMutability":"view",
   "inputs":[{"name":"tournamentId","type":"uint256"},{"name":"playerAddress","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getTournamentParticipants","stateMutability":"view",
   "inputs":[{"name":"tournamentId","type":"uint256"}],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getTournamentWinners","stateMutability":"view",
   "inputs":[{"name":"tournamentId","type":"uint256"}],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"submitScore","stateMutability":"nonpayable",
   "inputs":[{"name":"tournamentId","type":"uint256"},{"name":"playerAddress","type":"address"},{"name":"score","type":"uint256"}],
   "outputs":[]}
]`
